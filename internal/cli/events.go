package cli

import (
	"context"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/store"
)

func newEventsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "Manage narrative events"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List events, newest first",
		Args:  cobra.NoArgs,
		RunE: o.run(func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, _ []string) error {
			events, err := repo.ListEvents(ctx, id, limit)
			if err != nil {
				return err
			}
			return printJSON(out, events)
		}),
	}
	list.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of events (0 = all)")
	cmd.AddCommand(list)

	var location, tags string
	add := &cobra.Command{
		Use:   "add <type> <description>",
		Short: "Register an event",
		Args:  cobra.ExactArgs(2),
		RunE: o.run(func(ctx context.Context, repo store.Repository, id chat.Identity, out io.Writer, args []string) error {
			ev, err := repo.RegisterEvent(ctx, id, canon.Event{
				Type:        args[0],
				Description: args[1],
				Location:    strings.TrimSpace(location),
				Tags:        splitTags(tags),
			})
			if err != nil {
				return err
			}
			return printJSON(out, ev)
		}),
	}
	add.Flags().StringVarP(&location, "location", "l", "", "Where the event happened")
	add.Flags().StringVarP(&tags, "tags", "t", "", "Comma separated tags")
	cmd.AddCommand(add)
	return cmd
}

func splitTags(raw string) []string {
	tags := []string{}
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
