package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/pubsub/internal/env"
)

var PublishCmd = &cobra.Command{
	Use:   "publish CHANNEL MESSAGE...",
	Short: "Publish a message to a channel",
	Long: `Publish a message to a channel and print how many subscribers received it.

The remaining arguments are joined with spaces to form the message.

Usage
	pubsub publish news "hello world"
`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		channel, message := args[0], strings.Join(args[1:], " ")

		receivers, err := conn.Publish(channel, message)
		if err != nil {
			log.Error("Failed to publish", zap.String("channel", channel), zap.Error(err))
			return err
		}

		log.Debug("Published", zap.String("channel", channel), zap.Int64("receivers", receivers))

		fmt.Fprintln(cmd.OutOrStdout(), receivers)

		return nil
	},
}
