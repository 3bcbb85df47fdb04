package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolved is returned by Fail.
var ErrUnresolved = errors.New("conflict left unresolved")

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc[T, U any] func(ctx context.Context, c Conflict[T, U]) (Resolution[T, U], error)

// Resolve implements Resolver.
func (f ResolverFunc[T, U]) Resolve(ctx context.Context, c Conflict[T, U]) (Resolution[T, U], error) {
	return f(ctx, c)
}

// KeepLeft resolves every conflict in favor of the left branch: the left
// side replays nothing and the right side replays left's actions.
func KeepLeft[T, U any]() Resolver[T, U] {
	return ResolverFunc[T, U](func(_ context.Context, c Conflict[T, U]) (Resolution[T, U], error) {
		return Resolution[T, U]{Right: c.Left}, nil
	})
}

// KeepRight resolves every conflict in favor of the right branch.
func KeepRight[T, U any]() Resolver[T, U] {
	return ResolverFunc[T, U](func(_ context.Context, c Conflict[T, U]) (Resolution[T, U], error) {
		return Resolution[T, U]{Left: c.Right}, nil
	})
}

// KeepBoth crosses both sides as if there were no conflict. For overwrites
// the side that replays last wins, so the two tips end up in different
// states; only the state of the side that becomes current is materialized.
func KeepBoth[T, U any]() Resolver[T, U] {
	return ResolverFunc[T, U](func(_ context.Context, c Conflict[T, U]) (Resolution[T, U], error) {
		return Resolution[T, U]{Left: c.Right, Right: c.Left}, nil
	})
}

// Fail refuses every conflict.
func Fail[T, U any]() Resolver[T, U] {
	return ResolverFunc[T, U](func(_ context.Context, c Conflict[T, U]) (Resolution[T, U], error) {
		return Resolution[T, U]{}, fmt.Errorf("%w at %s", ErrUnresolved, FormatPaths(c.Paths))
	})
}

// FormatPaths renders key paths as a comma separated list of dotted paths.
func FormatPaths(paths [][]string) string {
	parts := make([]string, len(paths))
	for i, p := range paths {
		parts[i] = strings.Join(p, ".")
	}
	return strings.Join(parts, ", ")
}
