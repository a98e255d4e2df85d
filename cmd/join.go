package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/BioHazard786/warpmeet/internal/room"
	"github.com/BioHazard786/warpmeet/internal/roomid"
	"github.com/BioHazard786/warpmeet/internal/ui"
	"github.com/spf13/cobra"
)

var joinFlags roomFlags

var joinCmd = &cobra.Command{
	Use:     "join <room-id|url>",
	Aliases: []string{"j"},
	Short:   "Ask to join a room",
	Long: `Ask the host of a room to let you in. You enter the room once the
host approves.

Examples:
  warpmeet join kitten-waffle-stardust-happy
  warpmeet join https://warpmeet.qzz.io/r/kitten-waffle-stardust-happy
  warpmeet join ABC123 --name Alice --audio-only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return runRoom(cmd.Context(), &joinFlags, room.JoinOptions{
			RoomID:    roomID,
			Name:      joinFlags.displayName(),
			AudioOnly: joinFlags.audioOnly,
		})
	},
}

func parseRoomInput(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	roomID := input
	if strings.Contains(input, "://") || strings.Contains(input, ".") {
		var err error
		if roomID, err = extractRoomIDFromURL(input); err != nil {
			return "", err
		}
		ui.PrintSuccessf("Extracted room ID: %s", roomID)
	}

	if !roomid.Valid(roomID) {
		return "", room.WrapError("join", room.ErrInvalidRoomID, roomID)
	}
	return roomID, nil
}

func extractRoomIDFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", room.NewError("parse URL", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	if id := parsedURL.Query().Get("room"); id != "" {
		return id, nil
	}

	return "", fmt.Errorf("could not extract room ID from URL: %s", urlStr)
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinFlags.register(joinCmd)
}
