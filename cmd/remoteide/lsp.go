package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	lsproto "go.lsp.dev/protocol"

	"github.com/user/remoteide/internal/lsp"
	"github.com/user/remoteide/internal/terminal"
)

func newLSPCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Query the server's language services",
	}
	cmd.AddCommand(newHoverCmd(flags), newDefinitionCmd(flags), newCompleteCmd(flags), newDiagnosticsCmd(flags))
	return cmd
}

// parsePosition reads a 1-based line:column into a zero-based position.
func parsePosition(s string) (lsproto.Position, error) {
	lineStr, colStr, ok := strings.Cut(s, ":")
	if !ok {
		colStr = "1"
	}
	line, err := strconv.ParseUint(lineStr, 10, 32)
	if err != nil || line == 0 {
		return lsproto.Position{}, fmt.Errorf("invalid position %q: want line[:column], counted from 1", s)
	}
	col, err := strconv.ParseUint(colStr, 10, 32)
	if err != nil || col == 0 {
		return lsproto.Position{}, fmt.Errorf("invalid position %q: want line[:column], counted from 1", s)
	}
	return lsproto.Position{Line: uint32(line - 1), Character: uint32(col - 1)}, nil
}

// lspSession connects and waits for the root listing so relative paths map
// to the server's namespace.
func lspSession(ctx context.Context, flags *globalFlags) (*session, context.Context, context.CancelFunc, error) {
	s, err := connect(ctx, flags)
	if err != nil {
		return nil, nil, nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, flags.timeout)
	if err := waitFor(waitCtx, "root listing", func() bool { return !s.Tree.Loading() }); err != nil {
		cancel()
		s.close()
		return nil, nil, nil, err
	}
	return s, waitCtx, cancel, nil
}

func newHoverCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "hover <path> <line[:column]>",
		Short: "Show hover information at a position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			s, ctx, cancel, err := lspSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer s.close()
			defer cancel()

			h, ok, err := s.LSP.Hover(ctx, s.Tree.Normalize(args[0]), pos)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.ErrOrStderr(), "no hover information")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), terminal.Sanitize(h.Text))
			return nil
		},
	}
}

func newDefinitionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "definition <path> <line[:column]>",
		Short: "Print where the symbol at a position is defined",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			s, ctx, cancel, err := lspSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer s.close()
			defer cancel()

			locs, err := s.LSP.Definition(ctx, s.Tree.Normalize(args[0]), pos)
			if err != nil {
				return err
			}
			printLocations(cmd.OutOrStdout(), locs)
			return nil
		},
	}
}

func printLocations(w io.Writer, locs []lsproto.Location) {
	for _, loc := range locs {
		path := strings.TrimPrefix(string(loc.URI), "file://")
		fmt.Fprintf(w, "%s:%d:%d\n", terminal.Sanitize(path), loc.Range.Start.Line+1, loc.Range.Start.Character+1)
	}
}

func newCompleteCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "complete <path> <line[:column]>",
		Short: "List completions at a position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			s, ctx, cancel, err := lspSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer s.close()
			defer cancel()

			s.LSP.RequestCompletions(s.Tree.Normalize(args[0]), pos)
			var list lsproto.CompletionList
			if err := waitFor(ctx, "completions", func() bool {
				var ok bool
				list, ok = s.LSP.Completions()
				return ok
			}); err != nil {
				return err
			}
			printCompletions(cmd.OutOrStdout(), list, limit)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "show at most this many items (0 for all)")
	return cmd
}

func printCompletions(w io.Writer, list lsproto.CompletionList, limit int) {
	items := list.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	for _, it := range items {
		if it.Detail != "" {
			fmt.Fprintf(w, "%-30s %s\n", terminal.Sanitize(it.Label), terminal.Sanitize(it.Detail))
			continue
		}
		fmt.Fprintln(w, terminal.Sanitize(it.Label))
	}
	if list.IsIncomplete || len(items) < len(list.Items) {
		fmt.Fprintf(w, "... (%d items, list incomplete)\n", len(list.Items))
	}
}

func newDiagnosticsCmd(flags *globalFlags) *cobra.Command {
	var settle time.Duration
	cmd := &cobra.Command{
		Use:   "diagnostics <path>",
		Short: "Open a file and print the diagnostics the server publishes for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, cancel, err := lspSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer s.close()
			defer cancel()

			rel := s.Tree.Normalize(args[0])
			if err := s.Docs.Open(ctx, rel); err != nil {
				return err
			}
			settleCtx, stop := context.WithTimeout(ctx, settle)
			defer stop()
			err = waitFor(settleCtx, "diagnostics", func() bool { return len(s.LSP.Diagnostics(rel)) > 0 })
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			printDiagnostics(cmd.OutOrStdout(), rel, s.LSP.Diagnostics(rel))
			return nil
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "how long to wait for the server to publish")
	return cmd
}

func printDiagnostics(w io.Writer, path string, diags []lsproto.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintf(w, "%s:%d:%d: %s: %s\n", terminal.Sanitize(path),
			d.Range.Start.Line+1, d.Range.Start.Character+1, lsp.Severity(d.Severity), terminal.Sanitize(d.Message))
	}
}
