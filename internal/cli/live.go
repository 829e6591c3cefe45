package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/agent-console/internal/live"
	"github.com/capitalize-ai/agent-console/internal/model"
	natsclient "github.com/capitalize-ai/agent-console/internal/nats"
)

var (
	liveTransport string
	natsURL       string
	maxReconnects int

	emitTopic string
	emitType  string
	emitTask  string
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the live events of an activation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireActivation(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		source, closeSource, err := openSource(ctx)
		if err != nil {
			return err
		}
		defer closeSource()

		out := cmd.OutOrStdout()
		l := live.NewListener(source, live.Key{
			TenantID:       tenantID,
			AgentName:      agentName,
			ActivationName: activationName,
		}, live.Config{
			MaxReconnectAttempts: maxReconnects,
			InitialInterval:      defaults.LiveReconnectInitial,
			MaxInterval:          defaults.LiveReconnectMax,
		}, live.Callbacks{
			OnMessage: func(ev model.LiveEvent) {
				fmt.Fprintln(out, formatEvent(ev))
			},
			OnConnect: func() {
				fmt.Fprintln(out, color.GreenString("connected via %s", source.Name()))
			},
			OnDisconnect: func(err error) {
				fmt.Fprintln(out, color.YellowString("disconnected: %v", err))
			},
		}, newLogger())

		l.Start(ctx)
		select {
		case <-ctx.Done():
			l.Stop()
			return nil
		case <-l.Done():
		}

		st := l.Status()
		if st.MaxReconnectAttemptsReached {
			return fmt.Errorf("%w after %d attempts", live.ErrUnavailable, st.Attempts)
		}
		return nil
	},
}

var emitCmd = &cobra.Command{
	Use:   "emit [text]",
	Short: "Publish an agent message on the NATS live subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireActivation(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		client, err := connectNATS(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		key := live.Key{TenantID: tenantID, AgentName: agentName, ActivationName: activationName}
		ev := model.LiveEvent{
			ID:          uuid.NewString(),
			Text:        args[0],
			Direction:   model.DirectionOutgoing,
			Scope:       emitTopic,
			MessageType: model.MessageType(emitType),
			TaskID:      emitTask,
			CreatedAt:   time.Now().UTC(),
		}
		if err := client.Publish(key, ev); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("published %s on %s", ev.ID, live.Subject(key)))
		return nil
	},
}

func init() {
	tailCmd.Flags().StringVar(&liveTransport, "transport", defaults.LiveTransport, "live transport, sse or nats")
	tailCmd.Flags().IntVar(&maxReconnects, "max-reconnects", defaults.LiveMaxReconnects, "consecutive failed attempts before giving up")

	for _, c := range []*cobra.Command{tailCmd, emitCmd} {
		c.Flags().StringVar(&natsURL, "nats-url", defaults.NATSURL, "NATS server URL")
	}

	emitCmd.Flags().StringVar(&emitTopic, "topic", "", "topic scope, empty for the default topic")
	emitCmd.Flags().StringVar(&emitType, "type", string(model.MessageTypeChat), "message type: chat, reasoning or tool")
	emitCmd.Flags().StringVar(&emitTask, "task", "", "task id")
}

// openSource returns the live source selected by --transport and a function
// releasing it.
func openSource(ctx context.Context) (live.Source, func(), error) {
	switch strings.ToLower(liveTransport) {
	case "nats":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := connectNATS(connectCtx)
		if err != nil {
			return nil, nil, err
		}
		return live.NewNATSSource(client.Conn()), client.Close, nil
	case "sse", "":
		client, err := newBackend()
		if err != nil {
			return nil, nil, err
		}
		return live.NewSSESource(client), func() {}, nil
	default:
		return nil, nil, errors.New("--transport must be sse or nats")
	}
}

func connectNATS(ctx context.Context) (*natsclient.Client, error) {
	return natsclient.Connect(ctx, natsclient.Config{
		URL:      natsURL,
		CAFile:   defaults.NATSCAFile,
		CertFile: defaults.NATSCertFile,
		KeyFile:  defaults.NATSKeyFile,
		Token:    defaults.NATSToken,
		Name:     "consolectl",
	}, newLogger())
}

func formatEvent(ev model.LiveEvent) string {
	topic := color.CyanString(ev.Topic())
	if ev.Direction != model.DirectionOutgoing {
		return fmt.Sprintf("%s %s", topic, color.HiBlackString("(%s) %s", ev.Direction, ev.Text))
	}
	return fmt.Sprintf("%s %s", topic, formatMessage(ev.Message()))
}
