// duet - two-persona conversation service
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/duetlabs/duet/internal/config"
)

var (
	// Global flags
	envFile string
	verbose bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "duet",
	Short: "duet - a conversation shared by two personas",
	Long: `duet runs a conversation with two assistant personas, Akane and Aoi.

The user can call either persona by name. A persona may refuse a task and
hand it to the other one. Conversations are persisted and restored on start.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(envFile); err != nil {
			slog.Info("No .env file found, using environment variables", "path", envFile)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(logOutput(cmd), &slog.HandlerOptions{
			Level: level,
		})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, chatCmd, sidecarCmd)
}

// logOutput keeps the interactive chat readable by logging to stderr.
func logOutput(cmd *cobra.Command) *os.File {
	if cmd == chatCmd {
		return os.Stderr
	}
	return os.Stdout
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
