package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/avcs/internal/dag"
)

// Storage mirrors machine.Storage plus the atomic commit every bundled
// store offers. It is declared here so machine tests can import testutil.
type Storage interface {
	Get(ctx context.Context, id string) (dag.Action[RegOp, int], error)
	Set(ctx context.Context, id string, a dag.Action[RegOp, int]) error
	GetCurrent(ctx context.Context) (dag.Action[RegOp, int], error)
	SetCurrent(ctx context.Context, id string) error
	Commit(ctx context.Context, a dag.Action[RegOp, int]) error
}

// RunStorageContract checks the behavior every storage implementation
// shares. newStorage must return an empty storage.
func RunStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Helper()
	ctx := context.Background()

	root := dag.NewInit[RegOp, int]("root")
	child := dag.NewNormal("child", root, Set("x", 1), 0)
	merged := dag.NewMerge("merged", []dag.ParentBranch[RegOp, int]{
		{ID: "child", Data: []RegOp{Add("y", 2)}, UndoData: []int{0}, Cross: 1},
		{ID: "other", Data: []RegOp{Set("x", 1), Add("y", 2)}, UndoData: []int{0, 0}, Cross: 1},
	}, []int{1, 1})

	t.Run("get missing is not found", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.Get(ctx, "nope")
		require.Error(t, err)
		assert.True(t, dag.IsNotFound(err))
	})

	t.Run("current before init is not found", func(t *testing.T) {
		s := newStorage(t)
		_, err := s.GetCurrent(ctx)
		require.Error(t, err)
		assert.True(t, dag.IsNotFound(err))
	})

	t.Run("set then get round-trips every kind", func(t *testing.T) {
		s := newStorage(t)
		for _, a := range []dag.Action[RegOp, int]{root, child, merged} {
			require.NoError(t, s.Set(ctx, a.ID, a))
		}
		for _, want := range []dag.Action[RegOp, int]{root, child, merged} {
			got, err := s.Get(ctx, want.ID)
			require.NoError(t, err)
			assert.Equal(t, want.Kind, got.Kind)
			assert.Equal(t, want.Depth, got.Depth)
			assert.Equal(t, want.ParentIDs(), got.ParentIDs())
			assert.Equal(t, want.Data, got.Data)
			assert.Equal(t, want.UndoData, got.UndoData)
			if want.Kind == dag.KindMerge {
				assert.Equal(t, want.Parents, got.Parents)
			}
		}
	})

	t.Run("set is idempotent", func(t *testing.T) {
		s := newStorage(t)
		require.NoError(t, s.Set(ctx, root.ID, root))
		require.NoError(t, s.Set(ctx, child.ID, child))

		imposter := child
		imposter.Data = Set("x", 99)
		require.NoError(t, s.Set(ctx, child.ID, imposter))

		got, err := s.Get(ctx, child.ID)
		require.NoError(t, err)
		assert.Equal(t, Set("x", 1), got.Data, "first write wins")
	})

	t.Run("set rejects mismatched id", func(t *testing.T) {
		s := newStorage(t)
		err := s.Set(ctx, "other", root)
		require.Error(t, err)
		assert.ErrorIs(t, err, dag.ErrInvalidAction)
	})

	t.Run("set current requires a stored action", func(t *testing.T) {
		s := newStorage(t)
		err := s.SetCurrent(ctx, "ghost")
		require.Error(t, err)
		assert.True(t, dag.IsNotFound(err))
	})

	t.Run("set current moves the head", func(t *testing.T) {
		s := newStorage(t)
		require.NoError(t, s.Set(ctx, root.ID, root))
		require.NoError(t, s.Set(ctx, child.ID, child))

		require.NoError(t, s.SetCurrent(ctx, child.ID))
		cur, err := s.GetCurrent(ctx)
		require.NoError(t, err)
		assert.Equal(t, child.ID, cur.ID)

		require.NoError(t, s.SetCurrent(ctx, root.ID))
		cur, err = s.GetCurrent(ctx)
		require.NoError(t, err)
		assert.Equal(t, root.ID, cur.ID)
	})

	t.Run("commit stores and moves the head", func(t *testing.T) {
		s := newStorage(t)
		require.NoError(t, s.Commit(ctx, root))
		require.NoError(t, s.Commit(ctx, child))

		cur, err := s.GetCurrent(ctx)
		require.NoError(t, err)
		assert.Equal(t, child.ID, cur.ID)
		_, err = s.Get(ctx, root.ID)
		require.NoError(t, err)
	})
}
