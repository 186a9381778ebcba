package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/OCAP2/mapmarkers/internal/config"

	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Map marker registry",
	Long: `mapmarkers keeps the markers of one map session. It reads newline-delimited
JSON commands such as {"command":":POINTER:CLICKED:","args":["24.0,49.8"]} from
stdin and writes one JSON result per line to stdout.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(configDir)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return a.run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the commands accepted on stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(configDir)
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(a.dispatcher.Commands(), "\n"))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", appName, CurrentVersion, BuildDate)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", ".", "directory containing "+config.ConfigFileName)
	rootCmd.AddCommand(commandsCmd, versionCmd)
}
