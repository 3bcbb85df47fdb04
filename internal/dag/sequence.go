package dag

import (
	"context"
	"fmt"
)

// Sequence is a single-pass, pull-based stream of actions, newest first.
// Next returns ok=false once the stream is exhausted. Sequences are not
// restartable and not safe for concurrent use.
type Sequence[T, U any] interface {
	Next(ctx context.Context) (Action[T, U], bool, error)
}

// SequenceFunc adapts a function to the Sequence interface.
type SequenceFunc[T, U any] func(ctx context.Context) (Action[T, U], bool, error)

// Next implements Sequence.
func (f SequenceFunc[T, U]) Next(ctx context.Context) (Action[T, U], bool, error) {
	return f(ctx)
}

// SliceSequence yields the elements of a slice in order.
type SliceSequence[T, U any] struct {
	items []Action[T, U]
	pos   int
}

// NewSliceSequence returns a sequence over items. items must already be
// newest-first.
func NewSliceSequence[T, U any](items ...Action[T, U]) *SliceSequence[T, U] {
	return &SliceSequence[T, U]{items: items}
}

// Next implements Sequence.
func (s *SliceSequence[T, U]) Next(ctx context.Context) (Action[T, U], bool, error) {
	if err := ctx.Err(); err != nil {
		return Action[T, U]{}, false, err
	}
	if s.pos >= len(s.items) {
		return Action[T, U]{}, false, nil
	}
	a := s.items[s.pos]
	s.pos++
	return a, true, nil
}

// FetchFunc returns the page of actions that follows lastID in a remote
// newest-first history. lastID is empty for the first page. An empty page
// ends the history.
type FetchFunc[T, U any] func(ctx context.Context, lastID string) ([]Action[T, U], error)

// PagedSequence turns a paging fetch function into a one-at-a-time
// sequence. A page is only requested once the previous one is drained.
type PagedSequence[T, U any] struct {
	fetch  FetchFunc[T, U]
	page   []Action[T, U]
	pos    int
	lastID string
	done   bool
	pages  int
}

// NewPagedSequence wraps fetch.
func NewPagedSequence[T, U any](fetch FetchFunc[T, U]) *PagedSequence[T, U] {
	return &PagedSequence[T, U]{fetch: fetch}
}

// Next implements Sequence.
func (s *PagedSequence[T, U]) Next(ctx context.Context) (Action[T, U], bool, error) {
	for !s.done && s.pos >= len(s.page) {
		page, err := s.fetch(ctx, s.lastID)
		if err != nil {
			return Action[T, U]{}, false, fmt.Errorf("fetch page after %q: %w", s.lastID, err)
		}
		s.pages++
		if len(page) == 0 {
			s.done = true
			break
		}
		s.page = page
		s.pos = 0
	}
	if s.done {
		return Action[T, U]{}, false, nil
	}
	a := s.page[s.pos]
	s.pos++
	s.lastID = a.ID
	return a, true, nil
}

// Pages returns how many fetches have been issued so far.
func (s *PagedSequence[T, U]) Pages() int {
	return s.pages
}

// Collect drains seq into a slice, preserving order.
func Collect[T, U any](ctx context.Context, seq Sequence[T, U]) ([]Action[T, U], error) {
	var out []Action[T, U]
	for {
		a, ok, err := seq.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, a)
	}
}
