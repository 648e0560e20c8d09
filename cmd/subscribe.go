package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/pubsub/client"
	"github.com/luma/pubsub/internal/env"
	"github.com/luma/pubsub/resp"
)

var (
	// Number of RecvAllWait rounds, 0 runs until interrupted
	ticks int

	interval time.Duration

	// How long acknowledgements are drained for after unsubscribing
	drain time.Duration

	messagesOnly bool
	patterns     bool
	jsonOutput   bool
)

func init() {
	flags := SubscribeCmd.Flags()

	flags.IntVar(&ticks, "ticks", 10, "How many waits to run before unsubscribing, 0 waits until interrupted")
	flags.DurationVar(&interval, "interval", time.Second, "How long each wait lasts")
	flags.DurationVar(&drain, "drain", time.Second, "How long to read acknowledgements for after unsubscribing")
	flags.BoolVar(&messagesOnly, "messages-only", true, "Only print message and pmessage pushes")
	flags.BoolVar(&patterns, "pattern", false, "Treat the arguments as glob patterns")
	flags.BoolVar(&jsonOutput, "json", false, "Print one JSON document per reply")
}

var SubscribeCmd = &cobra.Command{
	Use:   "subscribe CHANNEL...",
	Short: "Subscribe to channels and print what arrives",
	Long: `Subscribe to channels, or patterns with --pattern, and print every push
that arrives until --ticks waits of --interval have passed.

Usage
	pubsub subscribe news sport
	pubsub subscribe --pattern 'news.*' --ticks 0 --json
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(config.Log())
		if err != nil {
			return err
		}
		defer log.Sync()

		conn, err := connect(cmd, config, log)
		if err != nil {
			log.Error("Failed to connect", zap.Error(err))
			return err
		}
		defer conn.Close()

		if err := subscribeAll(conn, args, patterns); err != nil {
			return err
		}

		handler := printReply(cmd.OutOrStdout(), jsonOutput, log)

		for i := 0; ticks == 0 || i < ticks; i++ {
			if ctx.Err() != nil {
				log.Info("Interrupted, unsubscribing")
				break
			}

			if err := conn.RecvAllWait(interval, handler, messagesOnly); err != nil {
				log.Error("Failed to receive", zap.Error(err))
				return err
			}
		}

		if err := unsubscribeAll(conn, args, patterns); err != nil {
			return err
		}

		return conn.RecvAllWait(drain, handler, false)
	},
}

func subscribeAll(conn *client.Conn, names []string, patterns bool) error {
	if !patterns {
		return conn.Subscribe(names...)
	}

	for _, pattern := range names {
		if err := conn.PSubscribe(pattern); err != nil {
			return err
		}
	}

	return nil
}

func unsubscribeAll(conn *client.Conn, names []string, patterns bool) error {
	if !patterns {
		return conn.Unsubscribe(names...)
	}

	for _, pattern := range names {
		if err := conn.PUnsubscribe(pattern); err != nil {
			return err
		}
	}

	return nil
}

// printReply writes each reply on its own line, either as text or as a
// JSON document.
func printReply(w io.Writer, asJSON bool, log *zap.Logger) client.Handler {
	return func(reply resp.Reply) {
		line, err := formatReply(reply, asJSON)
		if err != nil {
			log.Warn("Failed to format reply", zap.Stringer("reply", reply), zap.Error(err))
			return
		}

		fmt.Fprintln(w, line)
	}
}

func formatReply(reply resp.Reply, asJSON bool) (string, error) {
	message, isMessage := resp.ParseMessage(reply)

	if !asJSON {
		switch {
		case !isMessage:
			return reply.String(), nil

		case message.Kind == resp.KindPMessage:
			return fmt.Sprintf("%s %s: %s", message.Pattern, message.Channel, message.Payload), nil

		default:
			return fmt.Sprintf("%s: %s", message.Channel, message.Payload), nil
		}
	}

	if !isMessage {
		return sjson.Set("{}", "reply", reply.String())
	}

	doc, err := sjson.Set("{}", "kind", string(message.Kind))
	if err != nil {
		return "", err
	}

	if message.Kind == resp.KindPMessage {
		if doc, err = sjson.Set(doc, "pattern", message.Pattern); err != nil {
			return "", err
		}
	}

	if doc, err = sjson.Set(doc, "channel", message.Channel); err != nil {
		return "", err
	}

	return sjson.Set(doc, "payload", string(message.Payload))
}
