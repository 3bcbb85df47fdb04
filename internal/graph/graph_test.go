package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/avcs/internal/dag"
)

type act = dag.Action[string, struct{}]

// table is a tiny in-memory DAG. Depths are computed from parents, so
// actions must be added parents first.
type table map[string]act

func (tb table) init(id string) table {
	tb[id] = dag.NewInit[string, struct{}](id)
	return tb
}

func (tb table) normal(id, parent string) table {
	tb[id] = dag.NewNormal(id, tb[parent], id, struct{}{})
	return tb
}

func (tb table) merge(id string, parents ...string) table {
	records := make([]dag.ParentBranch[string, struct{}], len(parents))
	depths := make([]int, len(parents))
	for i, p := range parents {
		records[i] = dag.ParentBranch[string, struct{}]{ID: p}
		depths[i] = tb[p].Depth
	}
	tb[id] = dag.NewMerge(id, records, depths)
	return tb
}

// history walks first parents, like the machine does.
func (tb table) history(id string) dag.Sequence[string, struct{}] {
	next := id
	return dag.SequenceFunc[string, struct{}](func(context.Context) (act, bool, error) {
		if next == "" {
			return act{}, false, nil
		}
		a, ok := tb[next]
		if !ok {
			return act{}, false, dag.NewNotFoundError(next)
		}
		next = ""
		if ids := a.ParentIDs(); len(ids) > 0 {
			next = ids[0]
		}
		return a, true, nil
	})
}

func flatten(t *testing.T, tb table, start string) []Entry[string, struct{}] {
	t.Helper()
	entries, err := Flatten[string, struct{}](context.Background(), tb.history, start)
	require.NoError(t, err)
	return entries
}

func entryIDs(entries []Entry[string, struct{}]) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action.ID
	}
	return out
}

func label(a act) string {
	return a.ID + " " + string(a.Kind)
}

func diamond() table {
	return table{}.init("A").normal("B", "A").normal("C", "A").merge("M", "B", "C")
}

func TestFlattenLinear(t *testing.T) {
	tb := table{}.init("A").normal("B", "A").normal("C", "B")
	entries := flatten(t, tb, "C")

	require.Equal(t, []string{"C", "B", "A"}, entryIDs(entries))
	assert.Empty(t, entries[0].ChildIDs)
	assert.Equal(t, []string{"B"}, entries[0].ParentIDs)
	assert.Equal(t, []string{"C"}, entries[1].ChildIDs)
	assert.Equal(t, []string{"B"}, entries[2].ChildIDs)
	assert.Empty(t, entries[2].ParentIDs)
}

func TestFlattenDiamond(t *testing.T) {
	entries := flatten(t, diamond(), "M")

	require.Equal(t, []string{"M", "B", "C", "A"}, entryIDs(entries))
	assert.Equal(t, []string{"B", "C"}, entries[0].ParentIDs)
	assert.Equal(t, []string{"M"}, entries[1].ChildIDs)
	assert.Equal(t, []string{"M"}, entries[2].ChildIDs)
	assert.Equal(t, []string{"B", "C"}, entries[3].ChildIDs, "converging branches report their children once")
}

func TestFlattenEmitsEachActionOnce(t *testing.T) {
	tb := table{}.
		init("I").normal("A", "I").normal("X", "I").
		normal("B", "A").normal("C", "A").normal("Y", "X").
		merge("M", "B", "Y", "C").
		normal("N", "M")

	entries := flatten(t, tb, "N")
	assert.Equal(t, []string{"N", "M", "B", "Y", "C", "A", "X", "I"}, entryIDs(entries))
	for i := 1; i < len(entries); i++ {
		assert.GreaterOrEqual(t, entries[i-1].Action.Depth, entries[i].Action.Depth, "depth never increases")
	}
}

func TestFlattenUnknownStart(t *testing.T) {
	_, err := Flatten[string, struct{}](context.Background(), diamond().history, "nope")
	require.Error(t, err)
	assert.True(t, dag.IsNotFound(err))
}

func TestWalkStopsOnYieldError(t *testing.T) {
	stop := errors.New("stop")
	var seen []string
	err := Walk[string, struct{}](context.Background(), diamond().history, "M", func(e Entry[string, struct{}]) error {
		seen = append(seen, e.Action.ID)
		if len(seen) == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"M", "B"}, seen)
}

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		tb    table
		start string
	}{
		{"linear", table{}.init("A").normal("B", "A").normal("C", "B"), "C"},
		{"diamond", diamond(), "M"},
		{"uneven", table{}.init("A").normal("B", "A").normal("C", "B").normal("D", "A").merge("M", "C", "D"), "M"},
		{"octopus", table{}.init("A").normal("B", "A").normal("C", "A").normal("D", "A").merge("M", "B", "C", "D"), "M"},
		{"cross", table{}.
			init("I").normal("A", "I").normal("X", "I").
			normal("B", "A").normal("C", "A").normal("Y", "X").
			merge("M", "B", "Y", "C"), "M"},
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := Render(flatten(t, tt.tb, tt.start), label)
			g.Assert(t, tt.name, []byte(strings.Join(lines, "\n")+"\n"))
		})
	}
}

func TestRenderDiamondShape(t *testing.T) {
	lines := Render(flatten(t, diamond(), "M"), func(a act) string { return a.ID })
	assert.Equal(t, []string{
		"* M",
		`|\`,
		"| |",
		"* | B",
		"| * C",
		"|/",
		"|",
		"* A",
	}, lines)
}
