package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "hrrag",
		Short: "HR policy knowledge base",
		Long: `Ingests HR policy documents into a vector index and answers questions
from them, with a confidence score for every retrieval.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	open := func(cmd *cobra.Command) (*app, error) {
		return newApp(cmd.Context(), configPath)
	}

	root.AddCommand(
		newIngestCmd(open),
		newAskCmd(open),
		newSearchCmd(open),
		newEmailCmd(open),
		newAnalyticsCmd(open),
		newChunksCmd(open),
		newServeCmd(open),
		newChatCmd(open),
	)
	return root
}
