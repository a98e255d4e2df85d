package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/warpmeet/internal/ui"
	"github.com/BioHazard786/warpmeet/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "warpmeet",
	Short:   "Peer-to-peer video rooms over WebRTC, with host approval and signaling fallback",
	Long:    `WarpMeet hosts and joins small video rooms directly between devices using WebRTC. The host approves everyone who asks to join. Signaling goes through the WarpMeet relay and falls back to Redis, an in-process bus or a shared local store when the relay cannot be reached.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
