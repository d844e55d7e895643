package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/store"
)

func newHistoryCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "history", Short: "Manage the interaction history"}

	cmd.AddCommand(&cobra.Command{
		Use:   "rm-last",
		Short: "Delete the most recent interaction",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, _ []string) error {
			removed, err := repo.DeleteLastInteraction(ctx, id)
			if err != nil {
				return err
			}
			return printRemoved(out, "last interaction", removed)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the whole interaction history",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, _ []string) error {
			n, err := repo.DeleteHistory(ctx, id)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "deleted %d interactions\n", n)
			return err
		}),
	})
	return cmd
}

func newNSFWCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "nsfw", Short: "Control the NSFW gate"}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore virginity and clear the scene lock",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, _ []string) error {
			reset, err := repo.ResetNSFW(ctx, id)
			if err != nil {
				return err
			}
			if !reset {
				_, err = fmt.Fprintln(out, "no facts for identity, nothing to reset")
				return err
			}
			_, err = fmt.Fprintln(out, "nsfw reset")
			return err
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Force NSFW on for the identity",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, _ []string) error {
			if err := repo.EnableNSFW(ctx, id); err != nil {
				return err
			}
			_, err := fmt.Fprintln(out, "nsfw enabled")
			return err
		}),
	})
	return cmd
}

func newPurgeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every fact, event and interaction of the identity",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, _ []string) error {
			counts, err := repo.DeleteAllUserData(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(out, counts)
		}),
	}
}
