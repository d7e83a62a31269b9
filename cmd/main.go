package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/baderanaas/swapbytes/pkg/chat"
	"github.com/baderanaas/swapbytes/pkg/cli"
	"github.com/baderanaas/swapbytes/pkg/config"
	"github.com/baderanaas/swapbytes/pkg/engine"
	"github.com/baderanaas/swapbytes/pkg/libp2p"
	"github.com/baderanaas/swapbytes/pkg/logging"
	"github.com/baderanaas/swapbytes/pkg/session"
	"github.com/baderanaas/swapbytes/pkg/transfer"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	overrides  config.Overrides
)

var rootCmd = &cobra.Command{
	Use:   "swapbytes",
	Short: "Peer-to-peer chat and file sharing for the local network",
	Long: `swapbytes finds peers on the local network with mDNS and lets them chat
in shared rooms, talk privately and exchange files. There is no server:
nicknames and the room list live in a DHT shared by the peers.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.ConfigFileName, "Path to the configuration file")
	rootCmd.Flags().StringVar(&overrides.Listen, "listen", "", "Listen multiaddress (e.g. /ip4/0.0.0.0/tcp/4001)")
	rootCmd.Flags().StringVarP(&overrides.Nickname, "nickname", "n", "", "Log in with this nickname instead of prompting")
	rootCmd.Flags().StringVar(&overrides.DataDir, "data-dir", "", "Directory holding the node identity (default: ephemeral identity)")
	rootCmd.Flags().StringVar(&overrides.LogFile, "log-file", "", "Log file path")
	rootCmd.Flags().BoolVarP(&overrides.Verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.Flags().StringArrayVar(&overrides.Peers, "peer", nil, "Peer multiaddress to dial at startup (repeatable)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.New(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var key crypto.PrivKey
	if cfg.Identity.DataDir != "" {
		if key, err = libp2p.LoadIdentity(cfg.Identity.DataDir); err != nil {
			return err
		}
	}

	node, err := libp2p.NewNode(ctx, libp2p.Options{
		PrivKey:             key,
		ServiceName:         cfg.Network.ServiceName,
		LowWater:            cfg.Network.LowWater,
		HighWater:           cfg.Network.HighWater,
		RequestTimeout:      cfg.Network.RequestTimeout.Duration,
		LookupTimeout:       cfg.Network.LookupTimeout.Duration,
		MaintenanceInterval: cfg.Network.MaintenanceInterval.Duration,
		MaxMessageSize:      cfg.Files.MaxSize,
		Logger:              log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			log.Warn("failed to close node", zap.Error(err))
		}
	}()

	sess := session.New(node.ID())
	files := transfer.NewStore(cfg.Files.ShareDir, cfg.Files.DownloadDir, cfg.Files.MaxSize)
	eng, client := engine.New(node, sess, files, log)

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()
	defer func() {
		client.Close()
		if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("network engine stopped", zap.Error(err))
		}
	}()

	if err := client.StartListening(ctx, cfg.Network.Listen); err != nil {
		return err
	}
	if err := node.StartDiscovery(); err != nil {
		return err
	}
	if err := node.StartMaintenance(cfg.Network.Peers); err != nil {
		return err
	}

	svc := chat.NewService(client, sess, files, cfg.Chat.DefaultRoom, log)
	term, err := cli.NewTerminal(svc, node, log)
	if err != nil {
		return err
	}
	defer term.Close()

	addrs := make([]string, 0)
	for _, a := range node.Addrs() {
		addrs = append(addrs, a.String())
	}
	term.PrintBanner(node.ID().String(), addrs)

	if err := term.Login(ctx, cfg.Chat.Nickname); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return term.Run(ctx)
}
