package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/grnet/panoramix/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:     "events [topic]",
	Short:   "Tail model-changed events from NATS",
	GroupID: "live",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = cfg.NATSURL
		}
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}
		if natsURL == "" {
			return fmt.Errorf("no NATS URL; pass --nats or set ZEUS_NATS_URL")
		}
		topic := events.TopicAll
		if len(args) == 1 {
			topic = args[0]
		}
		user, _ := cmd.Flags().GetString("only-user")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		sub, err := events.NewNATSSubscriber(natsURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				logger.Info("nats reconnected")
			}),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer sub.Close()

		ch, cancel, err := sub.SubscribeStages(topic, user)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		defer cancel()

		out := cmd.OutOrStdout()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-ch:
				if !ok {
					return nil
				}
				printEvent(out, ev, jsonOutput)
			}
		}
	},
}

// printEvent prints one event as JSON or as a summary line.
func printEvent(w io.Writer, ev events.StageEvent, asJSON bool) {
	if asJSON {
		data, _ := json.Marshal(ev)
		fmt.Fprintln(w, string(data))
		return
	}
	line := fmt.Sprintf("%s %s", ev.ID, ev.User)
	if ev.Stage != "" {
		line += fmt.Sprintf(" %s %s", ev.Stage, eventState(ev))
	}
	if ev.Path != "" {
		line += " " + ev.Path
	}
	fmt.Fprintln(w, line)
}

func init() {
	eventsCmd.Flags().String("nats", "", "NATS URL (default ZEUS_NATS_URL or the active remote's)")
	eventsCmd.Flags().String("only-user", "", "show only the events of this user")
}
