package dag

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Kind discriminates the three action variants.
type Kind string

const (
	// KindInit is the root of a history. It has no parent and depth 0.
	KindInit Kind = "init"

	// KindNormal applies one payload on top of a single parent.
	KindNormal Kind = "normal"

	// KindMerge joins two or more branches. It carries no payload of its own.
	KindMerge Kind = "merge"
)

// Action is one node of the history DAG.
//
// Only the fields relevant to Kind are populated: Parent, Data, UndoData and
// UndoID for Normal, Parents for Merge.
type Action[T, U any] struct {
	Kind  Kind
	ID    string
	Depth int

	Parent   string
	Data     T
	UndoData U

	// UndoID is set when this action was recorded as the inverse of another.
	UndoID string

	Parents []ParentBranch[T, U]
}

// ParentBranch records one incoming branch of a Merge.
//
// Data and UndoData are parallel and ordered nearest-to-merge first. The
// first Cross pairs are the replay list that was applied on top of the
// branch tip to reach the merged state; the rest is the branch's own
// exclusive segment down to (not including) the common ancestor.
type ParentBranch[T, U any] struct {
	ID       string `json:"id"`
	Data     []T    `json:"data"`
	UndoData []U    `json:"undo_data"`
	Cross    int    `json:"cross"`
}

// Len returns the number of recorded pairs.
func (p ParentBranch[T, U]) Len() int {
	return len(p.Data)
}

// NewInit returns the root action.
func NewInit[T, U any](id string) Action[T, U] {
	return Action[T, U]{Kind: KindInit, ID: id}
}

// NewNormal returns a Normal action parented at parent.
func NewNormal[T, U any](id string, parent Action[T, U], data T, undo U) Action[T, U] {
	return Action[T, U]{
		Kind:     KindNormal,
		ID:       id,
		Depth:    parent.Depth + 1,
		Parent:   parent.ID,
		Data:     data,
		UndoData: undo,
	}
}

// NewMerge returns a Merge action over the given branch records. Depth is
// one more than the deepest parent, whose depths the caller supplies in the
// same order as parents.
func NewMerge[T, U any](id string, parents []ParentBranch[T, U], parentDepths []int) Action[T, U] {
	return Action[T, U]{
		Kind:    KindMerge,
		ID:      id,
		Depth:   slices.Max(parentDepths) + 1,
		Parents: parents,
	}
}

// ParentIDs returns the ids this action points at: none for Init, one for
// Normal, one per branch record for Merge.
func (a Action[T, U]) ParentIDs() []string {
	switch a.Kind {
	case KindNormal:
		return []string{a.Parent}
	case KindMerge:
		ids := make([]string, len(a.Parents))
		for i, p := range a.Parents {
			ids[i] = p.ID
		}
		return ids
	default:
		return nil
	}
}

// MergedIDs returns the parent ids of a Merge past the first, the branches
// it brought in. Other kinds have none.
func (a Action[T, U]) MergedIDs() []string {
	if a.Kind != KindMerge || len(a.Parents) < 2 {
		return nil
	}
	return a.ParentIDs()[1:]
}

// Branch returns the index of the parent record whose id is parentID.
func (a Action[T, U]) Branch(parentID string) (int, bool) {
	for i, p := range a.Parents {
		if p.ID == parentID {
			return i, true
		}
	}
	return -1, false
}

// Validate checks the structural rules for the action's kind.
func (a Action[T, U]) Validate() error {
	if a.ID == "" {
		return NewInvalidActionError("", "missing id")
	}
	switch a.Kind {
	case KindInit:
		if a.Parent != "" || len(a.Parents) > 0 || a.Depth != 0 {
			return NewInvalidActionError(a.ID, "init must have no parent and depth 0")
		}
	case KindNormal:
		if a.Parent == "" {
			return NewInvalidActionError(a.ID, "normal action requires a parent")
		}
		if a.Depth < 1 {
			return NewInvalidActionError(a.ID, "normal action depth must be positive")
		}
	case KindMerge:
		if len(a.Parents) < 2 {
			return NewInvalidActionError(a.ID, "merge requires at least two parent records")
		}
		for i, p := range a.Parents {
			if p.ID == "" {
				return NewInvalidActionError(a.ID, fmt.Sprintf("parent record %d has no id", i))
			}
			if len(p.Data) != len(p.UndoData) {
				return NewInvalidActionError(a.ID, fmt.Sprintf("parent record %d: %d data vs %d undo", i, len(p.Data), len(p.UndoData)))
			}
			if p.Cross < 0 || p.Cross > len(p.Data) {
				return NewInvalidActionError(a.ID, fmt.Sprintf("parent record %d: cross %d out of range", i, p.Cross))
			}
		}
	default:
		return NewInvalidActionError(a.ID, fmt.Sprintf("unknown kind %q", a.Kind))
	}
	return nil
}

// String returns a short human-readable form for logs.
func (a Action[T, U]) String() string {
	switch a.Kind {
	case KindMerge:
		return fmt.Sprintf("merge %s <- [%s]", a.ID, strings.Join(a.ParentIDs(), ","))
	case KindNormal:
		return fmt.Sprintf("normal %s <- %s", a.ID, a.Parent)
	default:
		return fmt.Sprintf("%s %s", a.Kind, a.ID)
	}
}

// actionWire is the JSON shape of an Action. Payload fields are pointers so
// that Init and Merge actions omit them instead of encoding zero payloads.
type actionWire[T, U any] struct {
	Kind     Kind                 `json:"kind"`
	ID       string               `json:"id"`
	Depth    int                  `json:"depth"`
	Parent   string               `json:"parent,omitempty"`
	Data     *T                   `json:"data,omitempty"`
	UndoData *U                   `json:"undo_data,omitempty"`
	UndoID   string               `json:"undo_id,omitempty"`
	Parents  []ParentBranch[T, U] `json:"parents,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (a Action[T, U]) MarshalJSON() ([]byte, error) {
	w := actionWire[T, U]{
		Kind:    a.Kind,
		ID:      a.ID,
		Depth:   a.Depth,
		Parent:  a.Parent,
		UndoID:  a.UndoID,
		Parents: a.Parents,
	}
	if a.Kind == KindNormal {
		w.Data = &a.Data
		w.UndoData = &a.UndoData
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Action[T, U]) UnmarshalJSON(data []byte) error {
	var w actionWire[T, U]
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Action[T, U]{
		Kind:    w.Kind,
		ID:      w.ID,
		Depth:   w.Depth,
		Parent:  w.Parent,
		UndoID:  w.UndoID,
		Parents: w.Parents,
	}
	if w.Data != nil {
		a.Data = *w.Data
	}
	if w.UndoData != nil {
		a.UndoData = *w.UndoData
	}
	return nil
}
