package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Prints the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSyncer(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			view, err := a.openView(s, args[0], nil)
			if err != nil {
				return err
			}
			defer view.Close()

			st, err := view.Evaluate(cmd.Context())
			if err != nil {
				return err
			}
			if !st.IsPersistent {
				fmt.Fprintln(cmd.ErrOrStderr(), "(no entry)")
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(s.Serializer(), st.Value))
			return nil
		},
	}
}

func (a *app) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Long:  "Sets the value for a key. The value is parsed with the selected serializer; text that does not parse is stored as a string.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSyncer(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			view, err := a.openView(s, args[0], nil)
			if err != nil {
				return err
			}
			defer view.Close()

			if err := view.Set(cmd.Context(), parseValue(s.Serializer(), args[1])); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "set successfully")
			return nil
		},
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm [key]",
		Aliases: []string{"del"},
		Short:   "Removes a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSyncer(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			view, err := a.openView(s, args[0], nil)
			if err != nil {
				return err
			}
			defer view.Close()

			if err := view.RemoveItem(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed successfully")
			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [key]",
		Short: "Prints the value of a key every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			s, err := a.openSyncer(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

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
				select {
				case <-s.Ready():
				case <-gctx.Done():
					return nil
				}
				return watchLoop(gctx, cmd, view, s.Serializer(), changed)
			})
			if err := g.Wait(); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}
