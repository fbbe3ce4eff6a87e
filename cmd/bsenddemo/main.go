// Command bsenddemo exercises the bsend buffered-send arena end to end:
// attach a buffer, submit messages concurrently through an in-process
// transport, and detach once everything has drained.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bsenddemo",
		Short: "Exercise the bsend arena against an in-process transport",
	}

	cmd.AddCommand(runCmd())
	return cmd
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level.SetLevel(zap.InfoLevel)
	return cfg.Build()
}
