package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "doorbell-identify",
	Short: "A face identification service for doorbell cameras",
	Long: `Doorbell Identify matches faces captured by a doorbell camera against
a library of known visitors. It serves an HTTP API for doorbell clients
and offers a one-shot CLI mode for testing a capture directory.
Face detection and embeddings are delegated to an external embedding server.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
