package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ucl/internal/config"
	"ucl/internal/node"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "ucld",
		Short:         "coordination-routing node daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		nodeID     string
		listenAddr string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a node until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// Flags beat the file.
			if nodeID != "" {
				cfg.NodeID = nodeID
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := buildLogger(debug)
			if err != nil {
				return err
			}
			defer logger.Sync()

			n := node.New(cfg, logger)
			if err := n.Start(); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			s := <-sig
			logger.Info("shutting down", zap.String("signal", s.String()))
			n.Stop()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ucl.yml", "path to the YAML config file")
	cmd.Flags().StringVar(&nodeID, "node-id", "", "override the configured node id")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "override the configured listen address")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
