package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/remoteide/internal/filetree"
	"github.com/user/remoteide/internal/terminal"
)

func newTreeCmd(flags *globalFlags) *cobra.Command {
	var depth int
	var expand []string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the workspace file tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
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
			for _, dir := range expand {
				if err := expandDir(waitCtx, s.Tree, dir); err != nil {
					return err
				}
			}
			for level := 1; level < depth; level++ {
				if err := expandLevel(waitCtx, s.Tree, level); err != nil {
					return err
				}
			}
			return printTree(cmd.OutOrStdout(), s.Tree)
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 1, "number of levels to load")
	cmd.Flags().StringSliceVarP(&expand, "expand", "e", nil, "directories to expand")
	return cmd
}

func expandDir(ctx context.Context, tree *filetree.Projector, dir string) error {
	n, ok := tree.Find(dir)
	if !ok {
		return fmt.Errorf("%w: %s", filetree.ErrNotFound, dir)
	}
	if n.IsLoaded {
		return nil
	}
	if err := tree.Toggle(ctx, dir); err != nil {
		return err
	}
	return waitFor(ctx, dir, func() bool {
		n, ok := tree.Find(dir)
		return ok && n.IsLoaded
	})
}

// expandLevel loads every unloaded directory found at the given depth.
func expandLevel(ctx context.Context, tree *filetree.Projector, level int) error {
	var dirs []string
	_ = tree.Walk(func(n *filetree.Node, depth int) error {
		if depth == level-1 && n.IsDirectory && !n.IsLoaded {
			dirs = append(dirs, n.Path)
		}
		return nil
	})
	for _, dir := range dirs {
		if err := expandDir(ctx, tree, dir); err != nil {
			return err
		}
	}
	return nil
}

func printTree(w io.Writer, tree *filetree.Projector) error {
	fmt.Fprintln(w, tree.Root())
	return tree.Walk(func(n *filetree.Node, depth int) error {
		indent := strings.Repeat("  ", depth+1)
		name := terminal.Sanitize(n.Name)
		if n.IsDirectory {
			_, err := fmt.Fprintf(w, "%s%s/\n", indent, name)
			return err
		}
		_, err := fmt.Fprintf(w, "%s%-40s %8s\n", indent, name, humanize.Bytes(uint64(n.Size)))
		return err
	})
}
