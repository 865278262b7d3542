package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "v0.1.0"

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configPath string

	root := &cobra.Command{
		Use:     "tiredd",
		Short:   "tiredd server and command line client",
		Version: version,
		Example: fmt.Sprintf("  %s serve --store sqlite\n  %s login --user alice\n  %s read --mode hot", os.Args[0], os.Args[0], os.Args[0]),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				v.SetConfigFile(configPath)
			}
		},
		// No subcommand starts the server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), v)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "server config file (yaml, json or toml)")

	root.AddCommand(newServeCommand(v))
	for _, c := range newClientCommands() {
		root.AddCommand(c)
	}
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
