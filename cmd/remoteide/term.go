package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/kballard/go-shellquote"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/user/remoteide/internal/terminal"
)

// detachKey is Ctrl-].
const detachKey = 0x1d

var errDetached = errors.New("detached")

func newTermCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "term [-- command [args...]]",
		Short: "Attach to a new remote terminal (Ctrl-] detaches)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fd := os.Stdin.Fd()
			if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
				return errors.New("term needs an interactive terminal on stdin")
			}

			ctx := cmd.Context()
			s, err := connect(ctx, flags)
			if err != nil {
				return err
			}
			defer s.close()

			cfg := s.Config()
			size := localSize(terminal.Size{Cols: cfg.TerminalCols, Rows: cfg.TerminalRows})
			sess, err := s.Terms.Create(ctx, &size)
			if err != nil {
				return err
			}
			id := sess.ID()
			if len(args) > 0 {
				if err := s.Terms.Write(ctx, id, shellquote.Join(args...)+"\n"); err != nil {
					return err
				}
			}

			oldState, err := term.MakeRaw(int(fd))
			if err != nil {
				return fmt.Errorf("failed to set raw mode: %w", err)
			}
			defer func() { _ = term.Restore(int(fd), oldState) }()

			err = attach(ctx, s.Terms, sess, os.Stdin, cmd.OutOrStdout())
			if _, gerr := s.Terms.Get(id); gerr == nil {
				if cerr := s.Terms.Close(context.Background(), id); cerr != nil {
					slog.Warn("closing terminal", "terminal_id", id, "error", cerr)
				}
			}
			if errors.Is(err, errDetached) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// attach pumps keystrokes to the session and its output to out until the
// session closes, the user detaches or ctx is done.
func attach(ctx context.Context, mux *terminal.Multiplexer, sess *terminal.Session, in io.Reader, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancelCause(gctx)
	defer cancel(nil)

	// Reads from stdin cannot be interrupted, so the reader is not part of
	// the group and only ends the attachment through cancel.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				data := buf[:n]
				for i, b := range data {
					if b == detachKey {
						if i > 0 {
							_ = mux.Write(ctx, sess.ID(), string(data[:i]))
						}
						cancel(errDetached)
						return
					}
				}
				if werr := mux.Write(ctx, sess.ID(), string(data)); werr != nil {
					cancel(werr)
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = errDetached
				}
				cancel(err)
				return
			}
		}
	}()

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case ev, ok := <-sess.Events():
				if !ok || ev.Type == terminal.EventClosed {
					return errDetached
				}
				if _, err := io.WriteString(out, ev.Data); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 4)
		signal.Notify(sigCh, syscall.SIGWINCH)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigCh:
				size := localSize(sess.Size())
				if size == sess.Size() {
					continue
				}
				if err := mux.Resize(ctx, sess.ID(), size); err != nil {
					slog.Debug("resize failed", "terminal_id", sess.ID(), "error", err)
				}
			}
		}
	})

	return g.Wait()
}

// localSize reports the size of the controlling terminal, or fallback
// when it cannot be read.
func localSize(fallback terminal.Size) terminal.Size {
	ws, err := pty.GetsizeFull(os.Stdin)
	if err != nil || ws.Cols == 0 || ws.Rows == 0 {
		return fallback
	}
	return terminal.Size{Cols: int(ws.Cols), Rows: int(ws.Rows)}
}
