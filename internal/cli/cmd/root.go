package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SlappyBacon/pico/internal/config"
	"github.com/SlappyBacon/pico/internal/connector"
	"github.com/SlappyBacon/pico/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:           `pico`,
	Long:          `pico is a connection broker and encrypted file transfer service`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		level := cfg.Log.Level
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		log, err = logger.NewLoggerWithLevel(level)
		return err
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(brokerCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(whereCmd)
	rootCmd.AddCommand(statusCmd)
}

func newConnector() *connector.Connector {
	return connector.New(connector.Config{
		Channel:          cfg.ChannelOptions(),
		DialTimeout:      cfg.Timeouts.Dial,
		HandshakeTimeout: cfg.Timeouts.Handshake,
		MaxHops:          cfg.Connector.MaxHops,
		MaxRetries:       cfg.Connector.MaxRetries,
		MaxRetryInterval: cfg.Connector.MaxRetryInterval,
		Logger:           log,
	})
}
