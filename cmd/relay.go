package cmd

import (
	"net"
	"os"

	"github.com/BioHazard786/warpmeet/internal/relay"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagRelayAddr  string
	flagRelayDebug bool
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the websocket signaling relay",
	Long: `Run the relay server clients use as their preferred signaling
transport. Every message is forwarded to the other clients connected
with the same room ID.

Examples:
  warpmeet relay
  warpmeet relay --addr :9000 --debug`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := zerolog.InfoLevel
		if flagRelayDebug {
			level = zerolog.DebugLevel
		}
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(level).
			With().Timestamp().Caller().Logger()

		ln, err := net.Listen("tcp", flagRelayAddr)
		if err != nil {
			return err
		}
		return relay.Serve(cmd.Context(), ln, logger)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVar(&flagRelayAddr, "addr", ":8080", "Listen address")
	relayCmd.Flags().BoolVar(&flagRelayDebug, "debug", false, "Log every relayed message")
}
