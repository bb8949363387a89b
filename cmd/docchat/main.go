// Command docchat chats with local documents from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docchat/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "docchat",
	Short:         "Ask questions about PDF and text documents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default $CONFIG_FILE or configs/config.toml)")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Load()
	}
	return config.LoadFile(configPath)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
