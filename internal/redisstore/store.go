// Package redisstore keeps an action history in Redis.
//
// Layout under the key prefix:
//
//	<prefix>action:<id>  JSON encoded action
//	<prefix>log          list of ids in insertion order
//	<prefix>head         id of the current action
//	<prefix>clock:<r>    last hash id sequence number of replica r
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/roach88/avcs/internal/dag"
)

// DefaultPrefix namespaces keys when no prefix is configured.
const DefaultPrefix = "avcs:"

// maxTxRetries bounds optimistic transaction retries on WATCH conflicts.
const maxTxRetries = 8

// Store implements machine.Storage and machine.Committer using Redis.
type Store[T, U any] struct {
	client *backend.Client
	prefix string
}

// Option configures a Store.
type Option func(*options)

type options struct {
	prefix string
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// New connects to the Redis server at address.
func New[T, U any](address, password string, db int, opts ...Option) *Store[T, U] {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient[T, U](rdb, opts...)
}

// NewFromClient creates a store over an existing client.
func NewFromClient[T, U any](client *backend.Client, opts ...Option) *Store[T, U] {
	o := options{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[T, U]{client: client, prefix: o.prefix}
}

func (s *Store[T, U]) actionKey(id string) string {
	return s.prefix + "action:" + id
}

func (s *Store[T, U]) logKey() string {
	return s.prefix + "log"
}

func (s *Store[T, U]) headKey() string {
	return s.prefix + "head"
}

// Get returns the action stored under id, or an error matching
// dag.ErrNotFound.
func (s *Store[T, U]) Get(ctx context.Context, id string) (dag.Action[T, U], error) {
	val, err := s.client.Get(ctx, s.actionKey(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return dag.Action[T, U]{}, dag.NewNotFoundError(id)
		}
		return dag.Action[T, U]{}, fmt.Errorf("get action from redis: %w", err)
	}
	return decode[T, U](val)
}

// Set stores a under id. An id that is already stored is kept as is.
func (s *Store[T, U]) Set(ctx context.Context, id string, a dag.Action[T, U]) error {
	if id != a.ID {
		return dag.NewInvalidActionError(a.ID, fmt.Sprintf("stored under mismatched id %q", id))
	}
	return s.write(ctx, a, false)
}

// Commit stores a and makes it current in one MULTI/EXEC transaction.
func (s *Store[T, U]) Commit(ctx context.Context, a dag.Action[T, U]) error {
	return s.write(ctx, a, true)
}

func (s *Store[T, U]) write(ctx context.Context, a dag.Action[T, U], moveHead bool) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal action %s: %w", a.ID, err)
	}
	key := s.actionKey(a.ID)

	txf := func(tx *backend.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			if n == 0 {
				pipe.Set(ctx, key, data, 0)
				pipe.RPush(ctx, s.logKey(), a.ID)
			}
			if moveHead {
				pipe.Set(ctx, s.headKey(), a.ID, 0)
			}
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key); err != nil {
		return fmt.Errorf("failed to save action %s to redis: %w", a.ID, err)
	}
	return nil
}

func (s *Store[T, U]) clockKey(replica string) string {
	return s.prefix + "clock:" + replica
}

// Clock returns the last sequence number saved for replica, or 0.
func (s *Store[T, U]) Clock(ctx context.Context, replica string) (int64, error) {
	seq, err := s.client.Get(ctx, s.clockKey(replica)).Int64()
	if errors.Is(err, backend.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get clock from redis: %w", err)
	}
	return seq, nil
}

// AdvanceClock saves seq for replica unless a larger value is already saved.
func (s *Store[T, U]) AdvanceClock(ctx context.Context, replica string, seq int64) error {
	key := s.clockKey(replica)
	txf := func(tx *backend.Tx) error {
		cur, err := tx.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, backend.Nil) {
			return err
		}
		if cur >= seq {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, seq, 0)
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key); err != nil {
		return fmt.Errorf("failed to advance clock in redis: %w", err)
	}
	return nil
}

// GetCurrent returns the current action.
func (s *Store[T, U]) GetCurrent(ctx context.Context) (dag.Action[T, U], error) {
	id, err := s.client.Get(ctx, s.headKey()).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			e := dag.NewNotFoundError("")
			e.Message = "no current action, history is not initialized"
			return dag.Action[T, U]{}, e
		}
		return dag.Action[T, U]{}, fmt.Errorf("get head from redis: %w", err)
	}
	return s.Get(ctx, id)
}

// SetCurrent points the head at id, which must be stored.
func (s *Store[T, U]) SetCurrent(ctx context.Context, id string) error {
	key := s.actionKey(id)
	txf := func(tx *backend.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return dag.NewNotFoundError(id)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, s.headKey(), id, 0)
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key); err != nil {
		if dag.IsNotFound(err) {
			return err
		}
		return fmt.Errorf("failed to set head in redis: %w", err)
	}
	return nil
}

// List returns every stored action in insertion order.
func (s *Store[T, U]) List(ctx context.Context) ([]dag.Action[T, U], error) {
	ids, err := s.client.LRange(ctx, s.logKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	out := make([]dag.Action[T, U], 0, len(ids))
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Close closes the redis client.
func (s *Store[T, U]) Close() error {
	return s.client.Close()
}

// watch runs txf under WATCH, retrying when another client touched the
// watched keys first.
func (s *Store[T, U]) watch(ctx context.Context, txf func(*backend.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, keys...)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return err
	}
	return backend.TxFailedErr
}

func decode[T, U any](val string) (dag.Action[T, U], error) {
	var a dag.Action[T, U]
	if err := json.Unmarshal([]byte(val), &a); err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("failed to unmarshal action: %w", err)
	}
	return a, nil
}
