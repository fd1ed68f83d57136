package cmd

import (
	"net"
	"strconv"

	"github.com/SlappyBacon/pico/internal/broker"
	"github.com/spf13/cobra"
)

var brokerFlags struct {
	assignPort int
	ports      []int
	mirrors    []string
}

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "run a standalone broker",
	Long: `runs only the rendezvous broker. Slots handed out are held for the
reservation timeout since no local slot ever reports busy, which makes this
mostly useful as a front door that spreads clients over mirrors`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("assign-port") {
			cfg.Broker.AssignPort = brokerFlags.assignPort
		}
		if flags.Changed("ports") {
			cfg.Broker.ServePorts = brokerFlags.ports
		}
		if flags.Changed("mirror") {
			cfg.Broker.Mirrors = brokerFlags.mirrors
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ports, err := cfg.ServePorts()
		if err != nil {
			return err
		}

		b, err := broker.New(broker.Config{
			Addr:               net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.AssignPort)),
			ServePorts:         ports,
			Mirrors:            cfg.Broker.Mirrors,
			HandshakeTimeout:   cfg.Timeouts.Handshake,
			ReservationTimeout: cfg.Timeouts.Reservation,
			Channel:            cfg.ChannelOptions(),
			Logger:             log,
		})
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := b.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return b.Stop()
	},
}

func init() {
	f := brokerCmd.Flags()
	f.IntVarP(&brokerFlags.assignPort, "assign-port", "p", 7000, "broker assign port")
	f.IntSliceVar(&brokerFlags.ports, "ports", nil, "serve slot ports")
	f.StringSliceVar(&brokerFlags.mirrors, "mirror", nil, "mirror broker host:port, repeatable")
}
