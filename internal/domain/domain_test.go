package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/avcs/internal/dag"
)

type scopeAction = dag.Action[[]dag.Scope, struct{}]

func identity(s []dag.Scope) []dag.Scope { return s }

func act(id string, scopes ...dag.Scope) scopeAction {
	return scopeAction{Kind: dag.KindNormal, ID: id, Parent: "p", Depth: 1, Data: scopes}
}

func orders(entries []Entry[[]dag.Scope, struct{}]) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Order
	}
	return out
}

func mustBuild(t *testing.T, actions ...scopeAction) *Tree[[]dag.Scope, struct{}] {
	t.Helper()
	tree, err := Build(actions, identity)
	require.NoError(t, err)
	return tree
}

func lookup(t *testing.T, tree *Tree[[]dag.Scope, struct{}], path ...string) *Node[[]dag.Scope, struct{}] {
	t.Helper()
	id, ok := tree.Lookup(path)
	require.True(t, ok, "path %v", path)
	return tree.Node(id)
}

func TestBuildCreatesTree(t *testing.T) {
	tree := mustBuild(t,
		act("count", dag.Commutative(1, "users", "count")),
		act("name", dag.Overwrite("users", "name")),
	)

	root := tree.Root()
	assert.Equal(t, 0, root.ID)
	assert.Equal(t, []int{0, 1}, orders(root.Actions))
	assert.Equal(t, Conflicting, root.Claim.Kind)
	assert.False(t, root.Triggered)
	assert.Equal(t, []string{"users"}, root.Keys())

	users := lookup(t, tree, "users")
	assert.Equal(t, 1, users.ID)
	assert.Equal(t, Conflicting, users.Claim.Kind)
	assert.False(t, users.Triggered)
	assert.Equal(t, []string{"count", "name"}, users.Keys())

	count := lookup(t, tree, "users", "count")
	assert.Equal(t, 2, count.ID)
	assert.Equal(t, []int{0}, orders(count.Actions))
	assert.True(t, count.Triggered)
	assert.Equal(t, Claim{Kind: Tagged, Tag: 1}, count.Claim)
	assert.Empty(t, count.Aliases)

	name := lookup(t, tree, "users", "name")
	assert.Equal(t, 3, name.ID)
	assert.Equal(t, []int{1}, orders(name.Actions))
	assert.True(t, name.Triggered)
	assert.Equal(t, Conflicting, name.Claim.Kind)
	assert.Equal(t, []string{"users", "name"}, name.Path)
}

func TestBuildKeepsMatchingTag(t *testing.T) {
	a := act("a", dag.Commutative(1))
	tree := mustBuild(t, a, a)

	root := tree.Root()
	assert.Equal(t, []int{0, 1}, orders(root.Actions), "same action twice occupies two entries")
	assert.True(t, root.Triggered)
	assert.Equal(t, Claim{Kind: Tagged, Tag: 1}, root.Claim)
	assert.Equal(t, 1, tree.Len())
}

func TestBuildInvalidatesDifferentTag(t *testing.T) {
	tree := mustBuild(t, act("a", dag.Commutative(1)), act("b", dag.Commutative(2)))

	assert.True(t, tree.Root().Triggered)
	assert.Equal(t, Conflicting, tree.Root().Claim.Kind)
}

func TestBuildInvalidatesWhenChildAppears(t *testing.T) {
	tree := mustBuild(t, act("a", dag.Commutative(1)), act("b", dag.Commutative(1, "a")))

	root := tree.Root()
	assert.True(t, root.Triggered)
	assert.Equal(t, Conflicting, root.Claim.Kind)

	child := lookup(t, tree, "a")
	assert.Equal(t, Claim{Kind: Tagged, Tag: 1}, child.Claim)
	assert.Equal(t, []int{1}, orders(child.Actions))
}

func TestBuildInvalidatesTriggerBelowExistingChildren(t *testing.T) {
	tree := mustBuild(t, act("a", dag.Commutative(1, "a", "b")), act("b", dag.Commutative(1, "a")))

	assert.Equal(t, Conflicting, lookup(t, tree, "a").Claim.Kind)
	assert.Equal(t, Claim{Kind: Tagged, Tag: 1}, lookup(t, tree, "a", "b").Claim)
}

func TestBuildAliasesSiblingScopes(t *testing.T) {
	tree := mustBuild(t, act("a",
		dag.Commutative(1, "a", "a"),
		dag.Commutative(1, "a", "b"),
	))

	root := tree.Root()
	assert.Equal(t, []int{0}, orders(root.Actions), "membership is idempotent per action")
	assert.Empty(t, root.Aliases)

	mid := lookup(t, tree, "a")
	assert.Equal(t, []int{0}, orders(mid.Actions))
	assert.Empty(t, mid.Aliases, "both scopes pass through a")
	assert.False(t, mid.Triggered)

	aa := lookup(t, tree, "a", "a")
	assert.Equal(t, 2, aa.ID)
	assert.Equal(t, [][]string{{"a", "b"}}, aa.Aliases)
	assert.Equal(t, Claim{Kind: Tagged, Tag: 1}, aa.Claim)

	ab := lookup(t, tree, "a", "b")
	assert.Equal(t, 3, ab.ID)
	assert.Equal(t, [][]string{{"a", "a"}}, ab.Aliases)
}

func TestBuildAliasesAcrossSubtrees(t *testing.T) {
	tree := mustBuild(t, act("a", dag.Overwrite("x", "y"), dag.Overwrite("z")))

	assert.Equal(t, [][]string{{"z"}}, lookup(t, tree, "x").Aliases)
	assert.Equal(t, [][]string{{"z"}}, lookup(t, tree, "x", "y").Aliases)
	assert.Equal(t, [][]string{{"x", "y"}}, lookup(t, tree, "z").Aliases)
}

func TestBuildRejectsNestedScopes(t *testing.T) {
	_, err := Build([]scopeAction{act("bad", dag.Overwrite("a", "b"), dag.Overwrite("a", "b", "c"))}, identity)
	assert.ErrorIs(t, err, ErrNestedScopes)
	assert.Contains(t, err.Error(), "action bad")
}

func TestBuildIgnoresInit(t *testing.T) {
	tree := mustBuild(t, scopeAction{Kind: dag.KindInit, ID: "root"})
	assert.True(t, tree.Root().Empty())
	assert.Equal(t, 1, tree.Len())
}

func TestLookupMissing(t *testing.T) {
	tree := mustBuild(t, act("a", dag.Overwrite("x")))

	_, ok := tree.Lookup([]string{"y"})
	assert.False(t, ok)
	_, ok = tree.Lookup([]string{"x", "deeper"})
	assert.False(t, ok)
	assert.Nil(t, tree.Node(99))

	id, ok := tree.Lookup(nil)
	assert.True(t, ok)
	assert.Equal(t, 0, id)
}

func TestClaimCompatible(t *testing.T) {
	tests := []struct {
		name string
		a, b Claim
		want bool
	}{
		{"same tag", Claim{Kind: Tagged, Tag: 1}, Claim{Kind: Tagged, Tag: 1}, true},
		{"different tag", Claim{Kind: Tagged, Tag: 1}, Claim{Kind: Tagged, Tag: 2}, false},
		{"conflicting", Claim{Kind: Conflicting}, Claim{Kind: Conflicting}, false},
		{"unclaimed", Claim{}, Claim{Kind: Tagged}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compatible(tt.b))
			assert.Equal(t, tt.want, tt.b.Compatible(tt.a))
		})
	}
}
