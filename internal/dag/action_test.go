package dag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAction = Action[string, string]

func TestNewNormalDepth(t *testing.T) {
	root := NewInit[string, string]("root")
	a := NewNormal("a", root, "set x", "was empty")
	b := NewNormal("b", a, "set y", "was empty")

	assert.Equal(t, 0, root.Depth)
	assert.Equal(t, 1, a.Depth)
	assert.Equal(t, 2, b.Depth)
	assert.Equal(t, []string{"a"}, b.ParentIDs())
	assert.Nil(t, root.ParentIDs())
}

func TestNewMergeDepthIsDeepestParentPlusOne(t *testing.T) {
	m := NewMerge("m", []ParentBranch[string, string]{
		{ID: "b", Data: []string{"c"}, UndoData: []string{"uc"}, Cross: 1},
		{ID: "c", Data: []string{"b"}, UndoData: []string{"ub"}, Cross: 1},
	}, []int{2, 5})

	assert.Equal(t, 6, m.Depth)
	assert.Equal(t, []string{"b", "c"}, m.ParentIDs())

	idx, ok := m.Branch("c")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = m.Branch("zzz")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  testAction
		wantErr bool
	}{
		{"init ok", NewInit[string, string]("r"), false},
		{"missing id", testAction{Kind: KindInit}, true},
		{"init with parent", testAction{Kind: KindInit, ID: "r", Parent: "x"}, true},
		{"normal ok", testAction{Kind: KindNormal, ID: "a", Parent: "r", Depth: 1}, false},
		{"normal without parent", testAction{Kind: KindNormal, ID: "a", Depth: 1}, true},
		{"merge with one parent", testAction{Kind: KindMerge, ID: "m", Depth: 3, Parents: []ParentBranch[string, string]{{ID: "a"}}}, true},
		{"merge ok", testAction{Kind: KindMerge, ID: "m", Depth: 3, Parents: []ParentBranch[string, string]{{ID: "a"}, {ID: "b"}}}, false},
		{"merge length mismatch", testAction{Kind: KindMerge, ID: "m", Depth: 3, Parents: []ParentBranch[string, string]{
			{ID: "a", Data: []string{"x"}},
			{ID: "b"},
		}}, true},
		{"merge cross out of range", testAction{Kind: KindMerge, ID: "m", Depth: 3, Parents: []ParentBranch[string, string]{
			{ID: "a", Cross: 2, Data: []string{"x"}, UndoData: []string{"y"}},
			{ID: "b"},
		}}, true},
		{"unknown kind", testAction{Kind: "weird", ID: "q"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAction)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestActionJSON(t *testing.T) {
	root := NewInit[string, int]("root")
	a := NewNormal("a", root, "inc", 3)
	a.UndoID = "z"

	data, err := json.Marshal(root)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"init","id":"root","depth":0}`, string(data))

	data, err = json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"normal","id":"a","depth":1,"parent":"root","data":"inc","undo_data":3,"undo_id":"z"}`, string(data))

	var back Action[string, int]
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, a, back)
}

func TestMergeActionJSONRoundTrip(t *testing.T) {
	m := NewMerge("m", []ParentBranch[string, int]{
		{ID: "b", Data: []string{"c1", "b1"}, UndoData: []int{1, 2}, Cross: 1},
		{ID: "c", Data: []string{"b1", "c1"}, UndoData: []int{3, 4}, Cross: 1},
	}, []int{2, 2})

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"undo_data":0`)

	var back Action[string, int]
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m, back)
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "init r", NewInit[string, string]("r").String())
	assert.Equal(t, "normal a <- r", testAction{Kind: KindNormal, ID: "a", Parent: "r"}.String())
	assert.Equal(t, "merge m <- [a,b]", testAction{Kind: KindMerge, ID: "m", Parents: []ParentBranch[string, string]{{ID: "a"}, {ID: "b"}}}.String())
}
