package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/avcs/internal/dag"
)

// Memory is an in-memory action log with the same semantics as Store.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Memory[T, U any] struct {
	mu      sync.RWMutex
	actions map[string]dag.Action[T, U]
	order   []string
	current string
}

// NewMemory returns an empty log.
func NewMemory[T, U any]() *Memory[T, U] {
	return &Memory[T, U]{actions: make(map[string]dag.Action[T, U])}
}

// Get implements machine.Storage.
func (m *Memory[T, U]) Get(_ context.Context, id string) (dag.Action[T, U], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actions[id]
	if !ok {
		return dag.Action[T, U]{}, dag.NewNotFoundError(id)
	}
	return a, nil
}

// Set implements machine.Storage. Storing an existing id is a no-op.
func (m *Memory[T, U]) Set(_ context.Context, id string, a dag.Action[T, U]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(id, a)
}

func (m *Memory[T, U]) set(id string, a dag.Action[T, U]) error {
	if id != a.ID {
		return dag.NewInvalidActionError(a.ID, fmt.Sprintf("stored under mismatched id %q", id))
	}
	if _, ok := m.actions[id]; ok {
		return nil
	}
	m.actions[id] = a
	m.order = append(m.order, id)
	return nil
}

// GetCurrent implements machine.Storage.
func (m *Memory[T, U]) GetCurrent(_ context.Context) (dag.Action[T, U], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actions[m.current]
	if !ok {
		e := dag.NewNotFoundError("")
		e.Message = "no current action, history is not initialized"
		return dag.Action[T, U]{}, e
	}
	return a, nil
}

// SetCurrent implements machine.Storage.
func (m *Memory[T, U]) SetCurrent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.actions[id]; !ok {
		return dag.NewNotFoundError(id)
	}
	m.current = id
	return nil
}

// Commit implements machine.Committer.
func (m *Memory[T, U]) Commit(_ context.Context, a dag.Action[T, U]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.set(a.ID, a); err != nil {
		return err
	}
	m.current = a.ID
	return nil
}

// List returns every stored action in insertion order.
func (m *Memory[T, U]) List(_ context.Context) ([]dag.Action[T, U], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]dag.Action[T, U], len(m.order))
	for i, id := range m.order {
		out[i] = m.actions[id]
	}
	return out, nil
}
