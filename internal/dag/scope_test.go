package dag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// scopesFromString parses payloads like "a.b,c#1" into scopes.
func scopesFromString(data string) []Scope {
	var out []Scope
	for _, part := range strings.Split(data, ",") {
		if part == "" {
			continue
		}
		path, tag, tagged := strings.Cut(part, "#")
		keys := strings.Split(path, ".")
		if tagged {
			out = append(out, Commutative(int(tag[0]-'0'), keys...))
		} else {
			out = append(out, Overwrite(keys...))
		}
	}
	return out
}

func scopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = s.String()
	}
	return out
}

func TestScopeConstructors(t *testing.T) {
	o := Overwrite("user", "id")
	c := Commutative(1, "count")

	assert.True(t, o.IsOverwrite())
	assert.False(t, c.IsOverwrite())
	assert.Equal(t, "user.id", o.String())
	assert.Equal(t, "count#1", c.String())
	assert.True(t, o.HasPrefix([]string{"user"}))
	assert.True(t, o.HasPrefix([]string{"user", "id"}))
	assert.False(t, o.HasPrefix([]string{"user", "id", "x"}))
	assert.False(t, o.HasPrefix([]string{"group"}))
}

func TestScopesOf(t *testing.T) {
	root := NewInit[string, string]("r")
	n := NewNormal("n", root, "a.b,c#1", "")

	assert.Nil(t, ScopesOf(root, scopesFromString))
	assert.Equal(t, []string{"a.b", "c#1"}, scopeStrings(ScopesOf(n, scopesFromString)))
}

func TestScopesOfMergeUnionsAllRecords(t *testing.T) {
	m := testAction{Kind: KindMerge, ID: "m", Parents: []ParentBranch[string, string]{
		{ID: "p1", Data: []string{"x", "y#1"}, UndoData: []string{"", ""}},
		{ID: "p2", Data: []string{"y#1", "z.q"}, UndoData: []string{"", ""}},
	}}

	assert.Equal(t, []string{"x", "y#1", "z.q"}, scopeStrings(ScopesOf(m, scopesFromString)))
}

func TestScopesOfMergeCollapsesNestedAndMixed(t *testing.T) {
	tests := []struct {
		name     string
		payloads []string
		want     []string
	}{
		{"mixed tags on one path", []string{"x#1", "x#2"}, []string{"x"}},
		{"overwrite beats tag", []string{"x#1", "x"}, []string{"x"}},
		{"deeper after shallower", []string{"a.b#1", "a.b.c"}, []string{"a.b"}},
		{"shallower after deeper", []string{"a.b.c", "a.b.d", "a#1"}, []string{"a"}},
		{"siblings survive", []string{"a.b", "a.c#1"}, []string{"a.b", "a.c#1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testAction{Kind: KindMerge, ID: "m", Parents: []ParentBranch[string, string]{
				{ID: "p1", Data: tt.payloads, UndoData: make([]string, len(tt.payloads))},
				{ID: "p2"},
			}}
			assert.Equal(t, tt.want, scopeStrings(ScopesOf(m, scopesFromString)))
		})
	}
}
