package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	envFile string
	version = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:           "liar-server",
	Short:         "Game server for the liar word game",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides LIAR_LISTEN_ADDR)")
	serveCmd.Flags().StringVar(&backendURL, "backend", "", "session backend base URL (overrides LIAR_BACKEND_URL)")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
