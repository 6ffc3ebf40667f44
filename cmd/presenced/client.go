package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"github.com/mikey-austin/presenced/internal/adapters/mqttserver"
	"github.com/mikey-austin/presenced/internal/adapters/output"
	"github.com/mikey-austin/presenced/internal/presenced"
	"github.com/mikey-austin/presenced/pkg/presence"
)

func statusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the published presence state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			client, err := dial(app)
			if err != nil {
				return err
			}
			defer client.Close()

			states := make(chan presence.State, 8)
			topic := presence.Topics(app.cfg.Server.TopicBase).State
			if err := client.Subscribe(topic, 1, func(_ string, payload []byte) {
				state, err := presence.UnmarshalState(payload)
				if err != nil {
					return
				}
				select {
				case states <- state:
				default:
				}
			}); err != nil {
				return err
			}

			if watch {
				ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()
				for {
					select {
					case <-ctx.Done():
						return nil
					case state := <-states:
						if err := app.printer.Print(state); err != nil {
							return err
						}
					}
				}
			}

			timeout := time.Duration(app.cfg.Server.TimeoutMS) * time.Millisecond
			select {
			case state := <-states:
				return app.printer.Print(state)
			case <-time.After(timeout):
				return errors.New("no state published yet")
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "print every published state")
	return cmd
}

func arriveCommand() *cobra.Command {
	var (
		note string
		at   string
	)
	cmd := &cobra.Command{
		Use:   "arrive NAME",
		Short: "Announce an arrival",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := arrivalPayload(args[0], note, at)
			if err != nil {
				return err
			}
			app := fromContext(cmd)
			return publish(app, presence.Topics(app.cfg.Server.TopicBase).Arrival, payload)
		},
	}
	cmd.Flags().StringVarP(&note, "note", "n", "", "note shown next to the name")
	cmd.Flags().StringVar(&at, "time", "", "arrival time (RFC3339)")
	return cmd
}

func departCommand() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "depart NAME",
		Short: "Announce a departure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := departurePayload(args[0], at)
			if err != nil {
				return err
			}
			app := fromContext(cmd)
			return publish(app, presence.Topics(app.cfg.Server.TopicBase).Departure, payload)
		},
	}
	cmd.Flags().StringVar(&at, "time", "", "departure time (RFC3339)")
	return cmd
}

func setStatusCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:       "set-status open|closed|thursday",
		Short:     "Set the space status",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"open", "closed", "thursday"},
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := statusPayload(args[0], raw)
			if err != nil {
				return err
			}
			app := fromContext(cmd)
			return publish(app, presence.Topics(app.cfg.Server.TopicBase).Status, payload)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "send the unquoted status name")
	return cmd
}

func arrivalPayload(name string, note string, at string) ([]byte, error) {
	ts, err := parseTime(at)
	if err != nil {
		return nil, err
	}
	return json.Marshal(presence.Arrival{Name: name, Time: ts, Note: presence.StringPtr(note)})
}

func departurePayload(name string, at string) ([]byte, error) {
	ts, err := parseTime(at)
	if err != nil {
		return nil, err
	}
	return json.Marshal(presence.Departure{Name: name, Time: ts})
}

func statusPayload(value string, raw bool) ([]byte, error) {
	status, err := presence.ParseStatus(value)
	if err != nil {
		return nil, err
	}
	if raw {
		return []byte(status.String()), nil
	}
	return json.Marshal(status)
}

func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", value, err)
	}
	return &ts, nil
}

func dial(app *app) (*mqttserver.Client, error) {
	if app.cfg.Server.Broker == "" {
		return nil, presenced.WrapError(presenced.ExitUsage, "broker is required (set --broker or config)", nil)
	}
	client, err := mqttserver.NewClient(clientOptions(app.cfg, "presenced-cli-"+xid.New().String()))
	if err != nil {
		return nil, presenced.WrapError(presenced.ExitBroker, "connect "+app.cfg.Server.Broker, err)
	}
	return client, nil
}

func publish(app *app, topic string, payload []byte) error {
	client, err := dial(app)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Publish(topic, 1, false, payload); err != nil {
		return err
	}
	return app.printer.Print(output.PublishResult{Topic: topic, Payload: string(payload)})
}
