package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evolvlabs/viewmymeetings/internal/client"
	"github.com/evolvlabs/viewmymeetings/internal/meeting"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print pushed conflict, resolution, and deletion events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := client.Options{
				OnConflict: func(m meeting.Meeting) {
					fmt.Print("CONFLICT  ")
					printMeeting(m)
				},
				OnResolution: func(m meeting.Meeting) {
					fmt.Print("RESOLVED  ")
					printMeeting(m)
				},
				OnDeletion: func(m meeting.Meeting) {
					fmt.Print("DELETED   ")
					printMeeting(m)
				},
			}
			c, _, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			// Prime the cache so later pushes land on current state.
			if _, err := c.Meetings(ctx); err != nil {
				return err
			}
			for _, m := range c.PendingConflicts() {
				fmt.Print("CONFLICT  ")
				printMeeting(m)
			}

			fmt.Println("watching, interrupt to stop")
			<-ctx.Done()
			return nil
		},
	}
}
