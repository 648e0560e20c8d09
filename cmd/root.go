package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/luma/pubsub/client"
	"github.com/luma/pubsub/cmd/gen"
	"github.com/luma/pubsub/internal/env"
)

var RootCmd = &cobra.Command{
	Use:   "pubsub",
	Short: "Publish to and subscribe on Redis compatible servers",
	Long: `Publish to and subscribe on Redis compatible servers

Connection settings come from PUBSUB_* environment variables, or a
.env.local file, and can be overridden with flags.

Usage
	pubsub publish news "hello world"
	pubsub subscribe news sport --ticks 5
	pubsub serve
`,
	SilenceUsage: true,
}

func init() {
	addConfigFlags(RootCmd.PersistentFlags())

	RootCmd.AddCommand(PublishCmd)
	RootCmd.AddCommand(SubscribeCmd)
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// addConfigFlags defines a flag for each setting flags can override.
func addConfigFlags(flags *pflag.FlagSet) {
	flags.StringP("host", "a", "localhost", "The server host")
	flags.IntP("port", "p", 6379, "The server port")
	flags.String("cert-file", "", "PEM client certificate, enables TLS")
	flags.String("key-file", "", "PEM client key, read from --cert-file when empty")
	flags.String("ca-file", "", "PEM CA bundle used to verify the server, enables TLS")
	flags.Bool("verify-peer-name", false, "Check the server certificate matches --host")
	flags.String("username", "", "ACL username to AUTH as")
	flags.String("password", "", "Password to AUTH with")
	flags.String("log-level", "info", "One of debug, info, warn or error")
	flags.String("log-file", "", "Write logs to a rotated file instead of stderr")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := RootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and then applies any flag the user set
// explicitly.
func loadConfig(cmd *cobra.Command) (*env.Config, error) {
	config, err := env.LoadConfig(cmd.Context())
	if err != nil {
		return nil, err
	}

	if err := overrideConfig(config, cmd); err != nil {
		return nil, err
	}

	return config, nil
}

func overrideConfig(config *env.Config, cmd *cobra.Command) (err error) {
	flags := cmd.Flags()

	stringFlags := map[string]*string{
		"host":      &config.Host,
		"cert-file": &config.CertFile,
		"key-file":  &config.KeyFile,
		"ca-file":   &config.CAFile,
		"username":  &config.Username,
		"password":  &config.Password,
		"log-level": &config.LogLevel,
		"log-file":  &config.LogFile,
	}

	for name, value := range stringFlags {
		if !flags.Changed(name) {
			continue
		}

		if *value, err = flags.GetString(name); err != nil {
			return err
		}
	}

	if flags.Changed("port") {
		if config.Port, err = flags.GetInt("port"); err != nil {
			return err
		}
	}

	if flags.Changed("verify-peer-name") {
		if config.VerifyPeerName, err = flags.GetBool("verify-peer-name"); err != nil {
			return err
		}
	}

	return nil
}

func clientOptions(config *env.Config, log *zap.Logger) client.Options {
	return client.Options{
		Host:           config.Host,
		Port:           config.Port,
		CertFile:       config.CertFile,
		KeyFile:        config.KeyFile,
		CAFile:         config.CAFile,
		VerifyPeerName: config.VerifyPeerName,
		Log:            log.Named("client"),
	}
}

// connect dials and authenticates when a password is configured.
func connect(cmd *cobra.Command, config *env.Config, log *zap.Logger) (*client.Conn, error) {
	conn, err := client.Dial(cmd.Context(), clientOptions(config, log))
	if err != nil {
		return nil, err
	}

	switch {
	case config.Password == "":
		return conn, nil

	case config.Username != "":
		err = conn.AuthUser(config.Username, config.Password)

	default:
		err = conn.Auth(config.Password)
	}

	if err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}
