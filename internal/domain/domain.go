// Package domain builds the scope-domain trie used to detect merge conflicts.
//
// A Tree is rebuilt for every merge from an ordered list of actions and is
// discarded afterwards. Nodes live in an arena and refer to each other by
// integer id; aliases are stored as key paths and resolved with Lookup, so
// no node ever holds a pointer to another.
package domain

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/avcs/internal/dag"
)

// ErrNestedScopes is returned when one action reports two scopes where one
// is a strict key prefix of the other.
var ErrNestedScopes = errors.New("action scopes must not be nested")

// ClaimKind is the aggregated modification class of a node.
type ClaimKind int

const (
	// Unclaimed: no scope terminates here yet.
	Unclaimed ClaimKind = iota
	// Tagged: every terminating scope so far carried the same tag.
	Tagged
	// Conflicting: the node cannot be merged without a resolver.
	Conflicting
)

func (k ClaimKind) String() string {
	switch k {
	case Tagged:
		return "tagged"
	case Conflicting:
		return "conflicting"
	default:
		return "unclaimed"
	}
}

// Claim is a node's aggregated modify type.
type Claim struct {
	Kind ClaimKind
	Tag  int
}

// Compatible reports whether two claims commute: both tagged with one tag.
func (c Claim) Compatible(other Claim) bool {
	return c.Kind == Tagged && other.Kind == Tagged && c.Tag == other.Tag
}

// Entry is an action together with its position in the input list.
type Entry[T, U any] struct {
	Action dag.Action[T, U]
	Order  int
}

// Node is one trie node.
type Node[T, U any] struct {
	ID   int
	Path []string

	// Actions touching this node or a descendant, in input order, once per
	// input position.
	Actions []Entry[T, U]

	// Triggered is set when some scope terminates exactly here.
	Triggered bool
	Claim     Claim

	// Aliases are key paths of other scopes belonging to an action that
	// passes through this node, where those scopes do not pass through it.
	Aliases [][]string

	keys     []string
	children map[string]int
}

// Keys returns child keys in insertion order.
func (n *Node[T, U]) Keys() []string {
	return n.keys
}

// Child returns the id of the child under key.
func (n *Node[T, U]) Child(key string) (int, bool) {
	id, ok := n.children[key]
	return id, ok
}

// Empty reports whether no action touches the node.
func (n *Node[T, U]) Empty() bool {
	return n == nil || len(n.Actions) == 0
}

func (n *Node[T, U]) addAction(a dag.Action[T, U], order int) {
	if len(n.Actions) > 0 && n.Actions[len(n.Actions)-1].Order == order {
		return
	}
	n.Actions = append(n.Actions, Entry[T, U]{Action: a, Order: order})
}

func (n *Node[T, U]) addAlias(path []string) {
	for _, existing := range n.Aliases {
		if slices.Equal(existing, path) {
			return
		}
	}
	n.Aliases = append(n.Aliases, path)
}

// Tree is an arena of nodes rooted at id 0.
type Tree[T, U any] struct {
	nodes []*Node[T, U]
}

func newTree[T, U any]() *Tree[T, U] {
	t := &Tree[T, U]{}
	t.newNode(nil)
	return t
}

func (t *Tree[T, U]) newNode(path []string) *Node[T, U] {
	n := &Node[T, U]{
		ID:       len(t.nodes),
		Path:     path,
		children: make(map[string]int),
	}
	t.nodes = append(t.nodes, n)
	return n
}

// Root returns node 0.
func (t *Tree[T, U]) Root() *Node[T, U] {
	return t.nodes[0]
}

// Node returns the node with the given id, or nil when out of range.
func (t *Tree[T, U]) Node(id int) *Node[T, U] {
	if id < 0 || id >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Len returns the number of nodes, root included.
func (t *Tree[T, U]) Len() int {
	return len(t.nodes)
}

// Lookup walks path from the root.
func (t *Tree[T, U]) Lookup(path []string) (int, bool) {
	id := 0
	for _, key := range path {
		next, ok := t.nodes[id].children[key]
		if !ok {
			return -1, false
		}
		id = next
	}
	return id, true
}

func (t *Tree[T, U]) child(parent *Node[T, U], key string) *Node[T, U] {
	if id, ok := parent.children[key]; ok {
		return t.nodes[id]
	}
	path := append(slices.Clip(parent.Path), key)
	n := t.newNode(path)
	parent.children[key] = n.ID
	parent.keys = append(parent.keys, key)
	return n
}

// Build folds actions, in order, into a new tree.
func Build[T, U any](actions []dag.Action[T, U], scopesOf dag.ScopeFunc[T]) (*Tree[T, U], error) {
	t := newTree[T, U]()
	for order, a := range actions {
		scopes := dag.ScopesOf(a, scopesOf)
		if err := checkNested(scopes); err != nil {
			return nil, fmt.Errorf("action %s: %w", a.ID, err)
		}
		for i, s := range scopes {
			t.insert(a, order, s, scopes, i)
		}
	}
	return t, nil
}

func (t *Tree[T, U]) insert(a dag.Action[T, U], order int, s dag.Scope, all []dag.Scope, self int) {
	node := t.Root()
	node.addAction(a, order)
	t.recordAliases(node, all, self)
	for _, key := range s.Keys {
		// Anything a path passes through is no longer safe to merge by tag.
		node.Claim = Claim{Kind: Conflicting}
		node = t.child(node, key)
		node.addAction(a, order)
		t.recordAliases(node, all, self)
	}

	node.Triggered = true
	switch {
	case len(node.keys) > 0, node.Claim.Kind == Conflicting, s.IsOverwrite():
		node.Claim = Claim{Kind: Conflicting}
	case node.Claim.Kind == Unclaimed:
		node.Claim = Claim{Kind: Tagged, Tag: *s.ModifyType}
	case node.Claim.Tag != *s.ModifyType:
		node.Claim = Claim{Kind: Conflicting}
	}
}

func (t *Tree[T, U]) recordAliases(node *Node[T, U], all []dag.Scope, self int) {
	for i, other := range all {
		if i == self || other.HasPrefix(node.Path) {
			continue
		}
		node.addAlias(other.Keys)
	}
}

func checkNested(scopes []dag.Scope) error {
	for i := range scopes {
		for j := range scopes {
			if i == j || len(scopes[i].Keys) >= len(scopes[j].Keys) {
				continue
			}
			if scopes[j].HasPrefix(scopes[i].Keys) {
				return fmt.Errorf("%w: %s contains %s", ErrNestedScopes, scopes[i], scopes[j])
			}
		}
	}
	return nil
}
