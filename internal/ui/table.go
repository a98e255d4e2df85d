package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BioHazard786/warpmeet/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
)

// ParticipantRow is one line of the participants table.
type ParticipantRow struct {
	ID         string
	Name       string
	Host       bool
	Audio      bool
	Video      bool
	Connection string
}

// ParticipantTableView renders the room's participants using lipgloss/table.
func ParticipantTableView(rows []ParticipantRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("Nobody else is here yet")
	}

	var data [][]string
	for _, r := range rows {
		name := utils.TruncateString(r.Name, 24)
		if r.Host {
			name = IconHost + " " + name
		}
		data = append(data, []string{
			name,
			utils.ShortID(r.ID),
			mediaIcons(r.Audio, r.Video),
			r.Connection,
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Name", "ID", "Media", "Connection").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func mediaIcons(audio, video bool) string {
	mic, cam := IconMic, IconCam
	if !audio {
		mic = IconMicOff
	}
	if !video {
		cam = IconCamOff
	}
	return mic + " " + cam
}

// RoomSummary is printed after leaving a room.
type RoomSummary struct {
	RoomID       string
	Title        string
	Host         bool
	Duration     time.Duration
	Participants map[string]string
	Outcome      string
}

// RoomSummaryView renders the leave summary using go-pretty.
func RoomSummaryView(title string, s RoomSummary) string {
	t := prettytable.NewWriter()
	t.SetTitle(title)
	t.SetStyle(prettytable.StyleRounded)
	t.AppendHeader(prettytable.Row{"Metric", "Value"})

	role := "Participant"
	if s.Host {
		role = "Host"
	}
	t.AppendRows([]prettytable.Row{
		{"Room", s.RoomID},
		{"Role", role},
		{"Outcome", s.Outcome},
		{"Duration", utils.FormatTimeDuration(s.Duration)},
		{"Met", len(s.Participants)},
	})
	if s.Title != "" {
		t.AppendRow(prettytable.Row{"Title", s.Title})
	}

	if len(s.Participants) > 0 {
		names := make([]string, 0, len(s.Participants))
		for _, name := range s.Participants {
			names = append(names, name)
		}
		sort.Strings(names)
		t.AppendSeparator()
		t.AppendRow(prettytable.Row{"People", strings.Join(names, ", ")})
	}

	return t.Render()
}

func RenderRoomSummary(title string, s RoomSummary) {
	fmt.Println(RoomSummaryView(title, s))
}

type RoomInfo struct {
	RoomID   string
	RoomLink string
	Title    string
}

func NewRoomInfo(roomID, roomLink, title string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomLink: roomLink,
		Title:    title,
	}
}

func (r *RoomInfo) View() string {
	heading := IconSuccess + " Room Created!"
	if r.Title != "" {
		heading = fmt.Sprintf("%s %s", IconSuccess, BoldStyle.Render(r.Title))
	}

	content := fmt.Sprintf("%s\n\n%s Room ID:    %s\n%s Room Link:  %s\n\n%s",
		heading,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
		MutedStyle.Render("Share the ID or link; you approve everyone who knocks."),
	)

	return SuccessBoxStyle.Render(content)
}
