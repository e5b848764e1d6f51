package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/evolvlabs/viewmymeetings/internal/client"
	"github.com/evolvlabs/viewmymeetings/internal/config"
	"github.com/evolvlabs/viewmymeetings/internal/logging"
	"github.com/evolvlabs/viewmymeetings/internal/meeting"
	"github.com/evolvlabs/viewmymeetings/internal/protocol"
)

func main() {
	godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "meetingclient",
		Short: "Schedule meetings and track conflicts from the terminal",
		Long: `meetingclient talks to the meeting server over its framed TCP
protocol. It authenticates with the identity configured in the
environment (VMM_CLIENT_ID, VMM_CLIENT_NAME, VMM_CLIENT_SECRET),
keeps a local snapshot of the meetings it knows about, and listens
for conflict, resolution, and deletion pushes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		listCmd(),
		createCmd(),
		updateCmd(),
		deleteCmd(),
		watchCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// connect loads the client configuration and opens both channels.
func connect(ctx context.Context, opts client.Options) (*client.Client, config.ClientConfig, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, config.ClientConfig{}, err
	}

	opts.ServerAddr = cfg.ServerAddr
	opts.StorePath = cfg.StorePath
	opts.Credentials = protocol.Credentials{
		Employee: protocol.AuthEmployee{ID: cfg.EmployeeID, Name: cfg.Name},
		Secret:   cfg.Secret,
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(os.Stderr, slog.LevelWarn)
	}

	c, err := client.New(opts)
	if err != nil {
		return nil, config.ClientConfig{}, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, config.ClientConfig{}, err
	}
	return c, cfg, nil
}

func printMeeting(m meeting.Meeting) {
	fmt.Printf("%s  %s - %s  %s (organizer %s",
		m.Topic,
		m.Start.Local().Format("2006-01-02 15:04"),
		m.End.Local().Format("15:04"),
		m.Place,
		m.Organizer.FullName,
	)
	for _, invitee := range m.Invitees {
		fmt.Printf(", %s", invitee.FullName)
	}
	fmt.Println(")")
}

// meetingFlags collects the flag set shared by create and update.
type meetingFlags struct {
	topic    string
	place    string
	start    string
	end      string
	invitees []string
}

func (f *meetingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.topic, "topic", "", "meeting topic")
	cmd.Flags().StringVar(&f.place, "place", "", "meeting place")
	cmd.Flags().StringVar(&f.start, "start", "", "start time, RFC 3339 (2026-03-09T09:00:00+09:00)")
	cmd.Flags().StringVar(&f.end, "end", "", "end time, RFC 3339")
	cmd.Flags().StringSliceVar(&f.invitees, "invitee", nil, "invitee as id=name, repeatable")
	cmd.MarkFlagRequired("topic")
	cmd.MarkFlagRequired("place")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
}

func (f *meetingFlags) build(cfg config.ClientConfig) (meeting.Meeting, error) {
	start, err := time.Parse(time.RFC3339, f.start)
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("parse --start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, f.end)
	if err != nil {
		return meeting.Meeting{}, fmt.Errorf("parse --end: %w", err)
	}

	invitees := make([]meeting.Employee, 0, len(f.invitees))
	for _, raw := range f.invitees {
		id, name, err := splitInvitee(raw)
		if err != nil {
			return meeting.Meeting{}, err
		}
		invitees = append(invitees, meeting.Employee{ID: id, FullName: name})
	}

	return meeting.Meeting{
		Topic:     f.topic,
		Organizer: meeting.Employee{ID: cfg.EmployeeID, FullName: cfg.Name},
		Invitees:  invitees,
		Place:     f.place,
		Start:     start,
		End:       end,
	}, nil
}

func splitInvitee(raw string) (id, name string, err error) {
	for i, r := range raw {
		if r == '=' {
			id, name = raw[:i], raw[i+1:]
			if id == "" || name == "" {
				break
			}
			return id, name, nil
		}
	}
	return "", "", fmt.Errorf("invitee %q: want id=name", raw)
}
