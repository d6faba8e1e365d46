package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/envutil"
	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
)

const version = "0.1.0"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: .env not loaded: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:   "synthesis",
		Short: "Structured content synthesis service",
		Long: `synthesis turns a generation spec (schema, target count, domain, seed words) into exactly
the requested number of validated, scored items, degrading gracefully when the model misbehaves.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newSchemasCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// signalLogger is used before the app logger exists; it only reports shutdown signals.
func signalLogger() *logger.Logger {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return logger.Nop()
	}
	return log
}
