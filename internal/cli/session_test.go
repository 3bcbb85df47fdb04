package cli

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/avcs/internal/config"
	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/doc"
	"github.com/roach88/avcs/internal/ir"
	"github.com/roach88/avcs/internal/store"
)

func TestIDGenerator(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	hashIDs := config.IDConfig{Scheme: "hash", Replica: "r1"}
	parents := []string{"p"}

	t.Run("uuid", func(t *testing.T) {
		gen, err := idGenerator(ctx, config.IDConfig{Scheme: "uuid"}, memoryBackend{store.NewMemory[doc.Op, doc.Undo]()}, logger)
		require.NoError(t, err)
		assert.IsType(t, dag.UUIDv7Generator{}, gen)
	})

	t.Run("hash resumes past uncommitted ids", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "avcs.db")
		st, err := store.Open[doc.Op, doc.Undo](path)
		require.NoError(t, err)

		gen, err := idGenerator(ctx, hashIDs, st, logger)
		require.NoError(t, err)
		first := gen.Generate(parents)
		gen.Generate(parents)
		require.NoError(t, st.Close())

		// Nothing was committed, so the action count alone would restart at 1.
		st, err = store.Open[doc.Op, doc.Undo](path)
		require.NoError(t, err)
		defer st.Close()
		gen, err = idGenerator(ctx, hashIDs, st, logger)
		require.NoError(t, err)
		next := gen.Generate(parents)
		assert.NotEqual(t, first, next)
		assert.Equal(t, ir.MustActionID("r1", parents, 3), next)
	})

	t.Run("hash without a saved clock counts actions", func(t *testing.T) {
		mem := store.NewMemory[doc.Op, doc.Undo]()
		root := dag.NewInit[doc.Op, doc.Undo]("root")
		require.NoError(t, mem.Commit(ctx, root))

		gen, err := idGenerator(ctx, hashIDs, memoryBackend{mem}, logger)
		require.NoError(t, err)
		assert.Equal(t, ir.MustActionID("r1", parents, 2), gen.Generate(parents))
	})
}
