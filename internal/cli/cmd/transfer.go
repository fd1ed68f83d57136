package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/SlappyBacon/pico/internal/transfer"
	"github.com/jpillora/sizestr"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send broker-address path/to/file",
	Short: "upload a file to a pico server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, path := args[0], args[1]

		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		ch, err := newConnector().Connect(cmd.Context(), addr)
		if err != nil {
			return err
		}
		defer func() { _ = ch.Close() }()

		bar := progressbar.DefaultBytes(info.Size(), "sending "+filepath.Base(path))
		size, err := transfer.Put(ch, path, bar)
		_ = bar.Finish()
		if err != nil {
			return err
		}

		log.Infof("Sent %s (%s) via %s", filepath.Base(path), sizestr.ToString(size), ch.RemoteAddr())
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch broker-address name [destination]",
	Short: "download a file from a pico server",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, name := args[0], args[1]
		dest := filepath.Base(name)
		if len(args) == 3 {
			dest = args[2]
		}

		ch, err := newConnector().Connect(cmd.Context(), addr)
		if err != nil {
			return err
		}
		defer func() { _ = ch.Close() }()

		bar := progressbar.DefaultBytes(-1, "fetching "+name)
		size, err := transfer.Get(ch, name, dest, bar)
		_ = bar.Finish()
		if err != nil {
			return err
		}

		log.Infof("Fetched %s (%s) into %s", name, sizestr.ToString(size), dest)
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls broker-address",
	Short: "list the files a pico server holds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := newConnector().Connect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer func() { _ = ch.Close() }()

		names, err := transfer.List(ch)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}
