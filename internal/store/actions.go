package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/avcs/internal/dag"
)

// Get returns the action stored under id, or an error matching
// dag.ErrNotFound.
func (s *Store[T, U]) Get(ctx context.Context, id string) (dag.Action[T, U], error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM actions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return dag.Action[T, U]{}, dag.NewNotFoundError(id)
	}
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("get action: %w", err)
	}
	return unmarshalAction[T, U](body)
}

// Set stores a under id. Uses ON CONFLICT(id) DO NOTHING for idempotency -
// an id that is already stored is silently kept as is.
func (s *Store[T, U]) Set(ctx context.Context, id string, a dag.Action[T, U]) error {
	if err := insertAction(ctx, s.db, id, a); err != nil {
		return fmt.Errorf("set action: %w", err)
	}
	return nil
}

// GetCurrent returns the current action.
func (s *Store[T, U]) GetCurrent(ctx context.Context) (dag.Action[T, U], error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT a.body
		FROM head h
		JOIN actions a ON a.id = h.action_id
		WHERE h.name = ?
	`, headCurrent).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		e := dag.NewNotFoundError("")
		e.Message = "no current action, history is not initialized"
		return dag.Action[T, U]{}, e
	}
	if err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("get current: %w", err)
	}
	return unmarshalAction[T, U](body)
}

// SetCurrent points the current head at id, which must be stored.
func (s *Store[T, U]) SetCurrent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set current: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := setHead(ctx, tx, id); err != nil {
		return fmt.Errorf("set current: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set current: commit: %w", err)
	}
	return nil
}

// Commit stores a and makes it current in one transaction.
func (s *Store[T, U]) Commit(ctx context.Context, a dag.Action[T, U]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := insertAction(ctx, tx, a.ID, a); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := setHead(ctx, tx, a.ID); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns every stored action in insertion order.
//
// Returns an empty slice (not nil) for an empty log.
func (s *Store[T, U]) List(ctx context.Context) ([]dag.Action[T, U], error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM actions ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []dag.Action[T, U]{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a, err := unmarshalAction[T, U](body)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

func insertAction[T, U any](ctx context.Context, q queryer, id string, a dag.Action[T, U]) error {
	if id != a.ID {
		return dag.NewInvalidActionError(a.ID, fmt.Sprintf("stored under mismatched id %q", id))
	}
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal action %s: %w", id, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO actions (id, kind, depth, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, string(a.Kind), a.Depth, string(body))
	if err != nil {
		return fmt.Errorf("insert action %s: %w", id, err)
	}
	return nil
}

func setHead(ctx context.Context, q queryer, id string) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM actions WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return dag.NewNotFoundError(id)
	}
	if err != nil {
		return fmt.Errorf("check action %s: %w", id, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO head (name, action_id) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET action_id = excluded.action_id
	`, headCurrent, id)
	if err != nil {
		return fmt.Errorf("update head: %w", err)
	}
	return nil
}

func unmarshalAction[T, U any](body string) (dag.Action[T, U], error) {
	var a dag.Action[T, U]
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return dag.Action[T, U]{}, fmt.Errorf("unmarshal action: %w", err)
	}
	return a, nil
}
