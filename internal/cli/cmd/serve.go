package cmd

import (
	"github.com/SlappyBacon/pico/internal/dispatcher"
	"github.com/SlappyBacon/pico/internal/store"
	"github.com/SlappyBacon/pico/internal/transfer"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	host       string
	assignPort int
	ports      []int
	mirrors    []string
	dir        string
	db         string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run a dispatcher that serves files",
	Long: `runs a broker on the assign port plus one slot per serve port. Clients
that connect are redirected to a free slot and can put, get and list files
in the shared directory`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("host") {
			cfg.Broker.Host = serveFlags.host
		}
		if flags.Changed("assign-port") {
			cfg.Broker.AssignPort = serveFlags.assignPort
		}
		if flags.Changed("ports") {
			cfg.Broker.ServePorts = serveFlags.ports
		}
		if flags.Changed("mirror") {
			cfg.Broker.Mirrors = serveFlags.mirrors
		}
		if flags.Changed("dir") {
			cfg.Transfer.Dir = serveFlags.dir
		}
		if flags.Changed("db") {
			cfg.Store.Path = serveFlags.db
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ports, err := cfg.ServePorts()
		if err != nil {
			return err
		}

		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close(db) }()

		recv, err := transfer.NewReceiver(cfg.Transfer.Dir, store.NewTransferStore(db), log)
		if err != nil {
			return err
		}

		d, err := dispatcher.New(dispatcher.Config{
			Host:               cfg.Broker.Host,
			AssignPort:         cfg.Broker.AssignPort,
			ServePorts:         ports,
			Mirrors:            cfg.Broker.Mirrors,
			Handler:            recv.Handle,
			HandshakeTimeout:   cfg.Timeouts.Handshake,
			ReservationTimeout: cfg.Timeouts.Reservation,
			Channel:            cfg.ChannelOptions(),
			Logger:             log,
		})
		if err != nil {
			return err
		}

		log.Infof("Serving %s on %s", cfg.Transfer.Dir, d.AssignAddr())
		return d.Run(cmd.Context())
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.host, "host", "", "bind host for all listeners")
	f.IntVarP(&serveFlags.assignPort, "assign-port", "p", 7000, "broker assign port")
	f.IntSliceVar(&serveFlags.ports, "ports", nil, "serve slot ports (default from config port_range)")
	f.StringSliceVar(&serveFlags.mirrors, "mirror", nil, "mirror broker host:port, repeatable")
	f.StringVarP(&serveFlags.dir, "dir", "d", "shared", "directory files are stored in")
	f.StringVar(&serveFlags.db, "db", "pico.sqlite3", "transfer ledger database")
}
