package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/suyash-sneo/kvsync"
	"github.com/suyash-sneo/kvsync/serializer"
)

const replHelp = `commands:
  get          print the current value
  set <value>  replace the value
  inc [n]      add n (default 1) to a numeric value
  rm           remove the entry
  help         show this help
  quit         leave the shell`

func (a *app) replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl [key]",
		Short: "Interactive shell bound to one key, with live updates from other processes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			s, err := a.openSyncer(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          args[0] + "> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "quit",
				AutoComplete: readline.NewPrefixCompleter(
					readline.PcItem("get"),
					readline.PcItem("set"),
					readline.PcItem("inc"),
					readline.PcItem("rm"),
					readline.PcItem("help"),
					readline.PcItem("quit"),
				),
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			changed := make(chan struct{}, 1)
			view, err := a.openView(s, args[0], func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			if err != nil {
				return err
			}
			defer view.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return s.Start(gctx) })
			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-changed:
						st, err := view.Evaluate(gctx)
						if err != nil {
							continue
						}
						fmt.Fprintf(rl.Stdout(), "~ %s\n", describe(s.Serializer(), st))
					}
				}
			})

			err = replLoop(ctx, rl, view, s.Serializer())
			cancel()
			if werr := g.Wait(); werr != nil && err == nil {
				err = werr
			}
			return err
		},
	}
}

// lineReader is the part of *readline.Instance the shell loop uses.
type lineReader interface {
	Readline() (string, error)
	Stdout() io.Writer
}

func replLoop(ctx context.Context, rl lineReader, view *kvsync.View[any], codec serializer.Serializer) error {
	out := rl.Stdout()
	if st, err := view.Evaluate(ctx); err == nil {
		fmt.Fprintln(out, describe(codec, st))
	}
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		quit, err := runReplCommand(ctx, out, view, codec, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// runReplCommand executes one shell line and reports whether the shell should exit.
func runReplCommand(ctx context.Context, out io.Writer, view *kvsync.View[any], codec serializer.Serializer, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "get":
		st, err := view.Evaluate(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, describe(codec, st))
	case "set":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: set <value>")
		}
		raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "set"))
		return false, view.Set(ctx, parseValue(codec, raw))
	case "inc":
		step := 1.0
		if len(fields) > 1 {
			n, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return false, fmt.Errorf("inc: %w", err)
			}
			step = n
		}
		var convErr error
		err := view.Update(ctx, func(prev any) any {
			n, err := toFloat(prev)
			if err != nil {
				convErr = err
				return prev
			}
			return n + step
		})
		if convErr != nil {
			return false, convErr
		}
		return false, err
	case "rm":
		return false, view.RemoveItem(ctx)
	case "help":
		fmt.Fprintln(out, replHelp)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return false, nil
}

func describe(codec serializer.Serializer, st kvsync.State[any]) string {
	if !st.IsPersistent {
		return formatValue(codec, st.Value) + " (no entry)"
	}
	return formatValue(codec, st.Value)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("inc: value %v is not a number", v)
	}
}
