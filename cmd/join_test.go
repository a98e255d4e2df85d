package cmd

import (
	"testing"

	"github.com/BioHazard786/warpmeet/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomInput(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"kitten-waffle-stardust-happy", "kitten-waffle-stardust-happy"},
		{"ABC123", "ABC123"},
		{"https://warpmeet.qzz.io/r/ABC123", "ABC123"},
		{"https://warpmeet.qzz.io/r/ABC123/", "ABC123"},
		{"warpmeet.qzz.io/r/team_sync", "team_sync"},
		{"wss://relay.example.com/ws?room=ABC123", "ABC123"},
	}
	for _, tt := range tests {
		got, err := parseRoomInput(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestParseRoomInputErrors(t *testing.T) {
	_, err := parseRoomInput("")
	assert.Error(t, err)

	_, err = parseRoomInput("https://warpmeet.qzz.io/about")
	assert.ErrorContains(t, err, "could not extract room ID")

	_, err = parseRoomInput("has spaces")
	assert.ErrorIs(t, err, room.ErrInvalidRoomID)
}
