package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/avcs/internal/config"
	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/doc"
	"github.com/roach88/avcs/internal/machine"
	"github.com/roach88/avcs/internal/redisstore"
	"github.com/roach88/avcs/internal/store"
)

// Machine is the document machine every command drives.
type Machine = machine.Machine[doc.Op, doc.Undo]

// Action is a document history action.
type Action = dag.Action[doc.Op, doc.Undo]

// backend is the storage surface a session needs.
type backend interface {
	machine.Storage[doc.Op, doc.Undo]
	List(ctx context.Context) ([]Action, error)
	Close() error
}

// memoryBackend gives the in-memory store a Close. The history is gone
// when the process exits.
type memoryBackend struct {
	*store.Memory[doc.Op, doc.Undo]
}

func (memoryBackend) Close() error { return nil }

// session is one opened history with its materialized document.
type session struct {
	cfg         *config.Config
	storage     backend
	state       *doc.State
	resolver    *doc.PolicyResolver
	machine     *Machine
	logger      *slog.Logger
	initialized bool
}

// openSession loads the configuration, opens the configured storage and
// replays the current history into a fresh document.
func openSession(ctx context.Context, opts *RootOptions, logOut io.Writer, extra ...machine.Option) (*session, error) {
	logger := newLogger(logOut, opts.Verbose)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if opts.DB != "" {
		cfg.Store.Path = opts.DB
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "resolve policy", err)
	}
	resolver, err := doc.NewPolicyResolver(policy)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "resolve policy", err)
	}

	storage, err := openBackend(cfg.Store)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open storage", err)
	}

	ids, err := idGenerator(ctx, cfg.IDs, storage, logger)
	if err != nil {
		storage.Close()
		return nil, WrapExitError(ExitCommandError, "id generator", err)
	}

	state := doc.NewState()
	mopts := append([]machine.Option{
		machine.WithLogger(logger),
		machine.WithIDGenerator(ids),
	}, extra...)
	s := &session{
		cfg:      cfg,
		storage:  storage,
		state:    state,
		resolver: resolver,
		machine:  machine.New(storage, state, resolver, mopts...),
		logger:   logger,
	}

	if _, err := storage.GetCurrent(ctx); err != nil {
		if dag.IsNotFound(err) {
			return s, nil
		}
		storage.Close()
		return nil, fmt.Errorf("get current: %w", err)
	}
	s.initialized = true
	if err := s.machine.Materialize(ctx); err != nil {
		storage.Close()
		return nil, fmt.Errorf("materialize: %w", err)
	}
	return s, nil
}

func (s *session) Close() error {
	return s.storage.Close()
}

// requireInit fails unless the history has an init action.
func (s *session) requireInit() error {
	if !s.initialized {
		return NewExitError(ExitCommandError, "history is not initialized (run avcs init)")
	}
	return nil
}

func openBackend(cfg config.StoreConfig) (backend, error) {
	switch cfg.Driver {
	case "memory":
		return memoryBackend{store.NewMemory[doc.Op, doc.Undo]()}, nil
	case "redis":
		return redisstore.New[doc.Op, doc.Undo](cfg.RedisAddr, "", 0, redisstore.WithPrefix(cfg.RedisPrefix)), nil
	case "sqlite", "":
		s, err := store.Open[doc.Op, doc.Undo](cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// clockStore saves the hash id clock of each replica.
type clockStore interface {
	Clock(ctx context.Context, replica string) (int64, error)
	AdvanceClock(ctx context.Context, replica string, seq int64) error
}

// idGenerator builds the configured id source. Hash ids resume their clock
// past the last saved sequence number of the replica. Storage without a
// clock, and histories written before clocks were saved, resume at the
// number of stored actions.
func idGenerator(ctx context.Context, cfg config.IDConfig, storage backend, logger *slog.Logger) (dag.IDGenerator, error) {
	if cfg.Scheme != "hash" {
		return dag.UUIDv7Generator{}, nil
	}
	replica := cfg.Replica
	if replica == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("replica name: %w", err)
		}
		replica = host
	}
	all, err := storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	start := int64(len(all))

	clocks, ok := storage.(clockStore)
	if !ok {
		return dag.NewHashGenerator(replica, start), nil
	}
	saved, err := clocks.Clock(ctx, replica)
	if err != nil {
		return nil, err
	}
	return &savedClockIDs{
		gen:    dag.NewHashGenerator(replica, max(start, saved)),
		clocks: clocks,
		logger: logger,
	}, nil
}

// savedClockIDs writes every sequence number through to storage before the
// id is used, so ids generated but never committed are not handed out again.
type savedClockIDs struct {
	gen    *dag.HashGenerator
	clocks clockStore
	logger *slog.Logger
}

func (g *savedClockIDs) Generate(parents []string) string {
	id, seq := g.gen.GenerateSeq(parents)
	if err := g.clocks.AdvanceClock(context.Background(), g.gen.Replica, seq); err != nil {
		g.logger.Warn("save id clock", "replica", g.gen.Replica, "seq", seq, "error", err)
	}
	return id
}

// label renders an action for log lines and command output.
func label(a Action) string {
	switch a.Kind {
	case dag.KindNormal:
		s := a.ID + " " + a.Data.String()
		if a.UndoID != "" {
			s += " (undoes " + a.UndoID + ")"
		}
		return s
	default:
		return a.ID + " " + string(a.Kind)
	}
}

// actionView is the JSON shape of an action in command output.
type actionView struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Depth   int      `json:"depth"`
	Op      string   `json:"op,omitempty"`
	UndoID  string   `json:"undo_id,omitempty"`
	Parents []string `json:"parents,omitempty"`
}

func viewOf(a Action) actionView {
	v := actionView{ID: a.ID, Kind: string(a.Kind), Depth: a.Depth, UndoID: a.UndoID, Parents: a.ParentIDs()}
	if a.Kind == dag.KindNormal {
		v.Op = a.Data.String()
	}
	return v
}
