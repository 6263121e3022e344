package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/BioHazard786/roomdrop/internal/config"
	"github.com/BioHazard786/roomdrop/internal/logging"
	"github.com/BioHazard786/roomdrop/internal/version"
)

func newRootCmd() *cobra.Command {
	var opts config.Options

	root := &cobra.Command{
		Use:           "roomdrop",
		Short:         "Peer-to-peer file transfer over WebRTC",
		Long:          `Roomdrop transfers files directly between two devices. A small relay pairs the peers into a room; the files themselves never pass through it.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(zapcore.ErrorLevel, "")
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.Domain, "domain", "", "Custom domain")
	flags.StringVar(&opts.RelayURL, "relay-url", "", "Relay websocket URL (overrides --domain)")
	flags.StringVarP(&opts.STUNServer, "stun", "s", "", "Custom STUN server(s), comma separated")
	flags.StringVarP(&opts.TURNServer, "turn", "t", "", "Custom TURN server")
	flags.StringVar(&opts.TURNUser, "turn-user", "", "TURN username")
	flags.StringVar(&opts.TURNPass, "turn-pass", "", "TURN password")
	flags.BoolVarP(&opts.ForceRelay, "relay", "r", false, "Force relay mode")
	flags.IntVar(&opts.ChunkSize, "chunk-size", 0, "Chunk size in bytes")
	flags.StringVar(&opts.EnvFile, "env-file", "", "Load settings from this file instead of .env")

	root.AddCommand(newSendCmd(&opts), newReceiveCmd(&opts))
	return root
}
