package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/remoteide/internal/terminal"
)

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var content bool
	var history int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search file names, or contents with --content",
		Args: func(cmd *cobra.Command, args []string) error {
			if history > 0 {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := connect(ctx, flags)
			if err != nil {
				return err
			}
			defer s.close()
			out := cmd.OutOrStdout()

			if history > 0 {
				entries, err := s.RecentSearches(ctx, history)
				if err != nil {
					return err
				}
				for _, e := range entries {
					mode := "names"
					if e.IncludeContent {
						mode = "content"
					}
					fmt.Fprintf(out, "%s  %-7s  %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), mode, e.Query)
				}
				return nil
			}

			query := strings.Join(args, " ")
			if err := s.SearchFor(ctx, query, content); err != nil {
				return err
			}
			waitCtx, cancel := context.WithTimeout(ctx, flags.timeout)
			defer cancel()
			err = waitFor(waitCtx, "search results", func() bool { return !s.Search.State().Active })
			st := s.Search.State()
			if err != nil {
				// Partial results are still worth printing.
				_ = s.Search.Cancel(context.Background())
			}
			for _, r := range st.Results {
				path := terminal.Sanitize(r.Path)
				if r.Line > 0 {
					fmt.Fprintf(out, "%s:%d: %s\n", path, r.Line, terminal.Sanitize(r.Text))
				} else {
					fmt.Fprintln(out, path)
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&content, "content", false, "search file contents")
	cmd.Flags().IntVar(&history, "history", 0, "list this many recent searches instead of searching")
	return cmd
}
