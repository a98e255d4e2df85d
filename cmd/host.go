package cmd

import (
	"github.com/BioHazard786/warpmeet/internal/room"
	"github.com/BioHazard786/warpmeet/internal/roomid"
	"github.com/spf13/cobra"
)

var (
	hostFlags roomFlags
	flagTitle string
)

var hostCmd = &cobra.Command{
	Use:     "host [room-id]",
	Aliases: []string{"h"},
	Short:   "Open a room and approve who joins",
	Long: `Open a new room. Share the room ID or link; every join request
waits for your approval in the console.

Examples:
  warpmeet host
  warpmeet host --title "Weekly sync"
  warpmeet host kitten-waffle-stardust-happy --audio-only`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := roomid.Generate()
		if len(args) == 1 {
			id = args[0]
		}
		if !roomid.Valid(id) {
			return room.WrapError("host", room.ErrInvalidRoomID, id)
		}

		return runRoom(cmd.Context(), &hostFlags, room.JoinOptions{
			RoomID:    id,
			Name:      hostFlags.displayName(),
			Host:      true,
			Title:     flagTitle,
			AudioOnly: hostFlags.audioOnly,
		})
	},
}

func init() {
	rootCmd.AddCommand(hostCmd)

	hostFlags.register(hostCmd)
	hostCmd.Flags().StringVar(&flagTitle, "title", "", "Room title shown to participants")
}
