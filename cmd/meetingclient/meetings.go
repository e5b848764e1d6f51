package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evolvlabs/viewmymeetings/internal/client"
	"github.com/evolvlabs/viewmymeetings/internal/meeting"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Fetch and print the meetings for this identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, _, err := connect(ctx, client.Options{})
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			meetings, err := c.Meetings(ctx)
			if err != nil {
				return err
			}
			if len(meetings) == 0 {
				fmt.Println("no meetings")
				return nil
			}
			for _, m := range meetings {
				printMeeting(m)
			}
			return nil
		},
	}
}

func createCmd() *cobra.Command {
	flags := &meetingFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a meeting organized by this identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd.Context(), flags, func(ctx context.Context, c *client.Client, m meeting.Meeting) error {
				if err := c.Create(ctx, m); err != nil {
					return err
				}
				fmt.Println("created")
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func updateCmd() *cobra.Command {
	flags := &meetingFlags{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the meeting matching the topic and place",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd.Context(), flags, func(ctx context.Context, c *client.Client, m meeting.Meeting) error {
				if err := c.Update(ctx, m); err != nil {
					return err
				}
				fmt.Println("updated")
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func deleteCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the meeting matching the topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, cfg, err := connect(ctx, client.Options{})
			if err != nil {
				return err
			}
			defer c.Close(ctx)

			m := meeting.Meeting{
				Topic:     topic,
				Organizer: meeting.Employee{ID: cfg.EmployeeID, FullName: cfg.Name},
			}
			if err := c.Delete(ctx, m); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "meeting topic")
	cmd.MarkFlagRequired("topic")
	return cmd
}

func runMutation(ctx context.Context, flags *meetingFlags, apply func(context.Context, *client.Client, meeting.Meeting) error) error {
	c, cfg, err := connect(ctx, client.Options{})
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	m, err := flags.build(cfg)
	if err != nil {
		return err
	}
	return apply(ctx, c, m)
}
