package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/remoteide/internal/document"
)

func newOpenCmd(flags *globalFlags) *cobra.Command {
	var replaceFrom string
	var save bool
	cmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Print a remote file, optionally replacing and saving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			var replacement *string
			if replaceFrom != "" {
				data, err := readInput(cmd.InOrStdin(), replaceFrom)
				if err != nil {
					return err
				}
				text := string(data)
				replacement = &text
			}

			s, err := connect(ctx, flags)
			if err != nil {
				return err
			}
			defer s.close()

			waitCtx, cancel := context.WithTimeout(ctx, flags.timeout)
			defer cancel()
			if err := waitFor(waitCtx, "root listing", func() bool { return !s.Tree.Loading() }); err != nil {
				return err
			}
			rel := s.Tree.Normalize(path)
			if err := s.Docs.Open(waitCtx, rel); err != nil {
				return err
			}
			var doc document.Document
			if err := waitFor(waitCtx, rel, func() bool {
				var ok bool
				doc, ok = s.Docs.ByPath(rel)
				return ok
			}); err != nil {
				return err
			}

			if replacement == nil {
				_, err := io.WriteString(cmd.OutOrStdout(), doc.Content)
				return err
			}
			if err := s.Docs.Edit(doc.ID, *replacement); err != nil {
				return err
			}
			s.Docs.Flush(doc.ID)
			if cur, ok := s.Docs.Get(doc.ID); ok && cur.Content != *replacement {
				return fmt.Errorf("server rejected the change to %s", rel)
			}
			if save {
				if err := s.Docs.Save(waitCtx, doc.ID); err != nil {
					return err
				}
			}
			cur, _ := s.Docs.Get(doc.ID)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: version %d (%s)\n", rel, cur.Version, cur.Language)
			return nil
		},
	}
	cmd.Flags().StringVarP(&replaceFrom, "replace", "r", "", "replace the content with this local file (- for stdin)")
	cmd.Flags().BoolVarP(&save, "save", "s", false, "save after replacing")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
