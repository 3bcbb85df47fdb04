package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/avcs/internal/doc"
	"github.com/roach88/avcs/internal/graph"
	"github.com/roach88/avcs/internal/ir"
)

// NewLogCommand creates the log command.
func NewLogCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log [id]",
		Short: "Draw the history graph",
		Long: `Draw every action reachable from id (default: current), newest
first, with merges drawn as joining branches.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				if err := s.requireInit(); err != nil {
					return f.Fail("log", err)
				}
				start := ""
				if len(args) == 1 {
					start = args[0]
				}
				entries, err := s.machine.Graph(ctx, start)
				if err != nil {
					return f.Fail("log", err)
				}
				views := make([]actionView, len(entries))
				for i, e := range entries {
					views[i] = viewOf(e.Action)
				}
				return f.Success(views, strings.Join(graph.Render(entries, label), "\n"))
			})
		},
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	var hash bool

	cmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Print the document, or the value at a dotted path",
		Long: `Print the document, or the value at a dotted path.

With --hash only the content hash of the value is printed. Two replicas
hold the same document exactly when their hashes match.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				if err := s.requireInit(); err != nil {
					return f.Fail("show", err)
				}
				var v ir.IRValue = s.state.Snapshot()
				if len(args) == 1 {
					var ok bool
					v, ok = s.state.Get(doc.ParsePath(args[0]))
					if !ok {
						return f.Fail("show", NewExitError(ExitFailure, fmt.Sprintf("no value at %q", args[0])))
					}
				}
				if hash {
					h, err := ir.PayloadHash(v)
					if err != nil {
						return f.Fail("show", err)
					}
					return f.Success(map[string]string{"hash": h}, h)
				}
				b, err := ir.MarshalCanonical(v)
				if err != nil {
					return f.Fail("show", err)
				}
				return f.Success(ir.ToGo(v), string(b))
			})
		},
	}

	cmd.Flags().BoolVar(&hash, "hash", false, "print the content hash instead of the value")
	return cmd
}
