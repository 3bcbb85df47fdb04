package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/avcs/internal/doc"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "avcs.db", cfg.Store.Path)
	assert.Equal(t, "avcs:", cfg.Store.RedisPrefix)
	assert.Equal(t, "uuid", cfg.IDs.Scheme)
	assert.Equal(t, "fail", cfg.Resolve.Default)
	assert.Equal(t, 100, cfg.Sync.PageSize)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avcs.cue")
	src := `
store: {
	driver: "redis"
	redis_addr: "cache:6379"
}
resolve: {
	default: "ours"
	paths: {
		"counters": "both"
		"profile.name": "theirs"
	}
}
sync: page_size: 25
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "cache:6379", cfg.Store.RedisAddr)
	assert.Equal(t, "avcs.db", cfg.Store.Path, "unset fields keep defaults")
	assert.Equal(t, 25, cfg.Sync.PageSize)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, doc.StrategyOurs, p.Default)
	assert.Equal(t, map[string]doc.Strategy{
		"counters":     doc.StrategyBoth,
		"profile.name": doc.StrategyTheirs,
	}, p.Paths)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AVCS_DB", "/var/lib/avcs/history.db")
	t.Setenv("AVCS_RESOLVE_DEFAULT", "theirs")
	t.Setenv("AVCS_SYNC_PAGE_SIZE", "7")

	cfg, err := LoadBytes("inline.cue", []byte(`store: path: "file.db"`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/avcs/history.db", cfg.Store.Path)
	assert.Equal(t, "theirs", cfg.Resolve.Default)
	assert.Equal(t, 7, cfg.Sync.PageSize)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown driver", `store: driver: "postgres"`},
		{"unknown field", `store: dsn: "x"`},
		{"bad strategy", `resolve: paths: a: "mine"`},
		{"page size range", `sync: page_size: 0`},
		{"syntax", `store: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes("bad.cue", []byte(tt.src))
			require.Error(t, err)
		})
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("AVCS_STORE_DRIVER", "postgres")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("AVCS_STORE_DRIVER", "memory")
	t.Setenv("AVCS_SYNC_PAGE_SIZE", "many")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestErrorPosition(t *testing.T) {
	_, err := LoadBytes("pos.cue", []byte("store: {\n\tdriver: 12\n}\n"))
	require.Error(t, err)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	if ce.Pos.IsValid() {
		assert.Contains(t, err.Error(), ".cue:")
	}
}
