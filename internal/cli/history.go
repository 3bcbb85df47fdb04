package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/avcs/internal/doc"
	"github.com/roach88/avcs/internal/ir"
)

// withSession opens the history for one command and closes it afterwards.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session, f *OutputFormatter) error) error {
	f := newFormatter(opts, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail("open history", err)
	}
	defer s.Close()
	return fn(ctx, s, f)
}

// NewInitCommand creates the init command.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Start a new history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				if s.initialized {
					return f.Fail("init", NewExitError(ExitCommandError, "history already initialized"))
				}
				a, err := s.machine.Init(ctx)
				if err != nil {
					return f.Fail("init", err)
				}
				return f.Success(viewOf(a), "initialized "+a.ID)
			})
		},
	}
}

// NewSetCommand creates the set command.
func NewSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <path> <json>",
		Short: "Set a JSON value at a dotted path",
		Example: `  avcs set user.name '"ada"'
  avcs set limits '{"max": 3}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				v, err := ir.DecodeValue([]byte(args[1]))
				if err != nil {
					return f.Fail("set", WrapExitError(ExitCommandError, "invalid JSON value", err))
				}
				return runOp(ctx, s, f, doc.Set(args[0], v))
			})
		},
	}
}

// NewIncCommand creates the inc command.
func NewIncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inc <path> <n>",
		Short: "Add n to the integer at a dotted path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				n, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return f.Fail("inc", WrapExitError(ExitCommandError, "invalid increment", err))
				}
				return runOp(ctx, s, f, doc.Inc(args[0], n))
			})
		},
	}
}

// NewDelCommand creates the del command.
func NewDelCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "del <path>",
		Short: "Delete the value at a dotted path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				return runOp(ctx, s, f, doc.Del(args[0]))
			})
		},
	}
}

func runOp(ctx context.Context, s *session, f *OutputFormatter, op doc.Op) error {
	if err := s.requireInit(); err != nil {
		return f.Fail(string(op.Kind), err)
	}
	a, err := s.machine.Run(ctx, op)
	if err != nil {
		return f.Fail(string(op.Kind), err)
	}
	return f.Success(viewOf(a), label(a))
}

// NewUndoCommand creates the undo command.
func NewUndoCommand(opts *RootOptions) *cobra.Command {
	var parent string

	cmd := &cobra.Command{
		Use:   "undo [id]",
		Short: "Record the inverse of an action",
		Long: `Record the inverse of an action as a new action.

Without an id the current action is undone. A merge is undone into one
of its parents with --parent, which records the inverse of every change
the other branches brought in.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				if err := s.requireInit(); err != nil {
					return f.Fail("undo", err)
				}
				if parent != "" {
					if len(args) == 0 {
						return f.Fail("undo", NewExitError(ExitCommandError, "--parent needs the merge id"))
					}
					actions, err := s.machine.UndoMerge(ctx, args[0], parent)
					if err != nil {
						return f.Fail("undo", err)
					}
					return successList(f, actions)
				}

				var a Action
				var err error
				if len(args) == 0 {
					a, err = s.machine.UndoLast(ctx)
				} else {
					a, err = s.machine.Undo(ctx, args[0])
				}
				if err != nil {
					return f.Fail("undo", err)
				}
				return f.Success(viewOf(a), label(a))
			})
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "undo a merge into this parent")
	return cmd
}

func successList(f *OutputFormatter, actions []Action) error {
	views := make([]actionView, len(actions))
	lines := make([]string, len(actions))
	for i, a := range actions {
		views[i] = viewOf(a)
		lines[i] = label(a)
	}
	text := strings.Join(lines, "\n")
	if len(actions) == 0 {
		text = "nothing to undo"
	}
	return f.Success(views, text)
}

// NewRedoCommand creates the redo command.
func NewRedoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redo <id>",
		Short: "Reapply the change an action made",
		Long: `Record a new action that applies the change id made again, typically
after it was undone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				if err := s.requireInit(); err != nil {
					return f.Fail("redo", err)
				}
				a, err := s.machine.Redo(ctx, args[0])
				if err != nil {
					return f.Fail("redo", err)
				}
				return f.Success(viewOf(a), label(a))
			})
		},
	}
}

// NewCheckoutCommand creates the checkout command.
func NewCheckoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <id>",
		Short: "Move the document to any action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				if err := s.requireInit(); err != nil {
					return f.Fail("checkout", err)
				}
				a, err := s.machine.Checkout(ctx, args[0])
				if err != nil {
					return f.Fail("checkout", err)
				}
				return f.Success(viewOf(a), "at "+label(a))
			})
		},
	}
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <id>",
		Short: "Merge another branch into the current one",
		Long: `Merge the branch ending at id into the current action.

Conflicting changes are settled by the resolve policy in the config:
ours, theirs, both or fail, chosen per path prefix.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				if err := s.requireInit(); err != nil {
					return f.Fail("merge", err)
				}
				a, err := s.machine.Merge(ctx, args[0])
				if err != nil {
					return f.Fail("merge", err)
				}
				s.logger.Debug("merge resolved", "conflicts", s.resolver.Calls())
				return f.Success(viewOf(a), fmt.Sprintf("at %s (%d conflicts resolved)", label(a), s.resolver.Calls()))
			})
		},
	}
}
