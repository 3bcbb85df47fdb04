// Package config loads avcs settings from a CUE file and the environment.
//
// The file is unified with an embedded schema that carries every default,
// so a missing file yields a complete configuration. Environment variables
// (AVCS_*) override file values and the result is validated against the
// schema once more.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/caarlos0/env/v11"

	"github.com/roach88/avcs/internal/doc"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full avcs configuration.
type Config struct {
	Store   StoreConfig   `json:"store"`
	IDs     IDConfig      `json:"ids"`
	Resolve ResolveConfig `json:"resolve"`
	Sync    SyncConfig    `json:"sync"`
}

// StoreConfig selects the action storage.
type StoreConfig struct {
	// Driver is one of sqlite, memory or redis.
	Driver      string `json:"driver" env:"AVCS_STORE_DRIVER"`
	Path        string `json:"path" env:"AVCS_DB"`
	RedisAddr   string `json:"redis_addr" env:"AVCS_REDIS_ADDR"`
	RedisPrefix string `json:"redis_prefix" env:"AVCS_REDIS_PREFIX"`
}

// IDConfig selects how action ids are generated.
type IDConfig struct {
	// Scheme is uuid (random UUIDv7) or hash (replica-scoped content hash).
	Scheme  string `json:"scheme" env:"AVCS_ID_SCHEME"`
	Replica string `json:"replica" env:"AVCS_REPLICA"`
}

// ResolveConfig is the conflict policy for merges.
type ResolveConfig struct {
	Default string            `json:"default" env:"AVCS_RESOLVE_DEFAULT"`
	Paths   map[string]string `json:"paths"`
}

// SyncConfig tunes the sync client.
type SyncConfig struct {
	PageSize int `json:"page_size" env:"AVCS_SYNC_PAGE_SIZE"`
}

// Error reports an invalid configuration, with the CUE position when one
// is known.
type Error struct {
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// Load reads the CUE file at path and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	var src []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		src = data
	}
	return LoadBytes(path, src)
}

// LoadBytes is Load for in-memory CUE source. filename is only used in
// error positions.
func LoadBytes(filename string, src []byte) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v := schema
	if len(src) > 0 {
		file := ctx.CompileBytes(src, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		v = schema.Unify(file)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, formatCUEError(err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Resolve.Paths == nil {
		cfg.Resolve.Paths = map[string]string{}
	}

	// Overrides bypass the schema, so check the merged result again.
	merged := schema.Unify(ctx.Encode(cfg))
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	return &cfg, nil
}

// Policy returns the merge conflict policy.
func (c *Config) Policy() (doc.Policy, error) {
	def, err := doc.ParseStrategy(c.Resolve.Default)
	if err != nil {
		return doc.Policy{}, err
	}
	p := doc.Policy{Default: def, Paths: make(map[string]doc.Strategy, len(c.Resolve.Paths))}
	for prefix, s := range c.Resolve.Paths {
		st, err := doc.ParseStrategy(s)
		if err != nil {
			return doc.Policy{}, fmt.Errorf("resolve path %q: %w", prefix, err)
		}
		p.Paths[prefix] = st
	}
	return p, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	e := &Error{Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		e.Pos = pos[0]
	}
	return e
}
