package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/room"
	"github.com/BioHazard786/warpmeet/internal/utils"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	eventBuffer = 256
	maxNotes    = 6
	refreshRate = time.Second
)

// Room is what the console drives; *room.Orchestrator implements it.
type Room interface {
	SelfID() string
	RoomID() string
	Title() string
	IsHost() bool
	Status() room.Status
	Participants() []room.Participant
	Pending() []room.PendingParticipant
	ConnectionStates() map[string]peer.State
	MediaState() room.MediaState
	Transport() string

	Admit(id string) error
	Reject(id string) error
	AdmitAll() error
	RejectAll() error
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
	ToggleScreenShare(ctx context.Context) (bool, error)
}

// Console is an interactive room view. It is also the room's
// room.Listener: events are queued without blocking the room and
// trigger a refresh of the view.
type Console struct {
	events chan eventMsg
}

var _ room.Listener = (*Console)(nil)

// eventMsg is a room event; note is shown in the activity log if set.
type eventMsg struct {
	note string
}

type snapshotMsg struct {
	status       room.Status
	title        string
	participants []room.Participant
	pending      []room.PendingParticipant
	states       map[string]peer.State
	media        room.MediaState
	transport    string
}

type actionMsg struct {
	note string
	err  error
}

type refreshTickMsg time.Time

func NewConsole() *Console {
	return &Console{events: make(chan eventMsg, eventBuffer)}
}

func (c *Console) notify(ev eventMsg) {
	select {
	case c.events <- ev:
	default:
		// a refresh is already queued behind a full buffer
	}
}

func (c *Console) StatusChanged(room.Status) { c.notify(eventMsg{}) }

func (c *Console) ParticipantAdded(p room.Participant) {
	c.notify(eventMsg{note: fmt.Sprintf("%s %s joined", IconPeer, p.Name)})
}

func (c *Console) ParticipantRemoved(id string) {
	c.notify(eventMsg{note: fmt.Sprintf("%s left", utils.ShortID(id))})
}

func (c *Console) PendingAdded(p room.PendingParticipant) {
	c.notify(eventMsg{note: fmt.Sprintf("%s %s is asking to join", IconKnock, p.Name)})
}

func (c *Console) PendingRemoved(string) { c.notify(eventMsg{}) }

func (c *Console) MediaStateChanged(string, bool, bool) { c.notify(eventMsg{}) }

func (c *Console) RemoteStreamAttached(id string, t peer.RemoteTrack) {
	c.notify(eventMsg{note: fmt.Sprintf("receiving %s from %s", t.Kind, utils.ShortID(id))})
}

func (c *Console) PeerStateChanged(string, peer.State) { c.notify(eventMsg{}) }

func (c *Console) PeerFailed(id string) {
	c.notify(eventMsg{note: fmt.Sprintf("%s could not connect to %s", IconError, utils.ShortID(id))})
}

func (c *Console) RoomTitleChanged(title string) {
	c.notify(eventMsg{note: fmt.Sprintf("room title: %s", title)})
}

// Run shows the console until the user quits, ctx is cancelled or the
// room ends for us (rejected, or the host left). It returns the last
// room status.
func (c *Console) Run(ctx context.Context, r Room) (room.Status, error) {
	m := newConsoleModel(ctx, r, c.events)
	final, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		// interrupted: the caller leaves the room
		err = nil
	}
	if fm, ok := final.(*consoleModel); ok {
		return fm.snap.status, err
	}
	return r.Status(), err
}

type consoleModel struct {
	ctx    context.Context
	room   Room
	events <-chan eventMsg
	host   bool

	snap     snapshotMsg
	selected int
	notes    []string
	spinner  spinner.Model
	entered  bool
	quitting bool
}

func newConsoleModel(ctx context.Context, r Room, events <-chan eventMsg) *consoleModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &consoleModel{
		ctx:     ctx,
		room:    r,
		events:  events,
		host:    r.IsHost(),
		spinner: s,
		snap:    snapshotMsg{status: room.StatusConnecting},
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh(), m.listen(), m.tick())
}

func (m *consoleModel) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m *consoleModel) tick() tea.Cmd {
	return tea.Tick(refreshRate, func(t time.Time) tea.Msg { return refreshTickMsg(t) })
}

// refresh reads the room state off the UI goroutine.
func (m *consoleModel) refresh() tea.Cmd {
	r := m.room
	return func() tea.Msg {
		return snapshotMsg{
			status:       r.Status(),
			title:        r.Title(),
			participants: r.Participants(),
			pending:      r.Pending(),
			states:       r.ConnectionStates(),
			media:        r.MediaState(),
			transport:    r.Transport(),
		}
	}
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case eventMsg:
		if msg.note != "" {
			m.addNote(msg.note)
		}
		return m, tea.Batch(m.refresh(), m.listen())

	case snapshotMsg:
		m.snap = msg
		if m.selected >= len(msg.pending) {
			m.selected = max(0, len(msg.pending)-1)
		}
		if m.finished() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.addNote(fmt.Sprintf("%s %v", IconError, msg.err))
		} else if msg.note != "" {
			m.addNote(msg.note)
		}
		return m, m.refresh()

	case refreshTickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// finished reports whether the room ended for us.
func (m *consoleModel) finished() bool {
	switch m.snap.status {
	case room.StatusConnecting, room.StatusConnected, room.StatusConnectionFailed:
		m.entered = true
	case room.StatusRejected:
		return true
	case room.StatusDisconnected:
		return m.entered && !m.host
	}
	return false
}

func (m *consoleModel) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return tea.Quit
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.snap.pending)-1 {
			m.selected++
		}
	case "a":
		if p, ok := m.selectedPending(); ok {
			return m.do(fmt.Sprintf("admitted %s", p.Name), func() error { return m.room.Admit(p.ID) })
		}
	case "r":
		if p, ok := m.selectedPending(); ok {
			return m.do(fmt.Sprintf("rejected %s", p.Name), func() error { return m.room.Reject(p.ID) })
		}
	case "A":
		return m.do("admitted everyone waiting", m.room.AdmitAll)
	case "R":
		return m.do("rejected everyone waiting", m.room.RejectAll)
	case "m":
		return m.toggle("microphone", m.room.ToggleAudio)
	case "v":
		return m.toggle("camera", m.room.ToggleVideo)
	case "s":
		return m.toggle("screen share", func() (bool, error) { return m.room.ToggleScreenShare(m.ctx) })
	}
	return nil
}

func (m *consoleModel) selectedPending() (room.PendingParticipant, bool) {
	if m.selected < 0 || m.selected >= len(m.snap.pending) {
		return room.PendingParticipant{}, false
	}
	return m.snap.pending[m.selected], true
}

func (m *consoleModel) do(note string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{note: note}
	}
}

func (m *consoleModel) toggle(what string, fn func() (bool, error)) tea.Cmd {
	return func() tea.Msg {
		on, err := fn()
		if err != nil {
			return actionMsg{err: err}
		}
		state := "off"
		if on {
			state = "on"
		}
		return actionMsg{note: fmt.Sprintf("%s %s", what, state)}
	}
}

func (m *consoleModel) addNote(note string) {
	m.notes = append(m.notes, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), note))
	if len(m.notes) > maxNotes {
		m.notes = m.notes[len(m.notes)-maxNotes:]
	}
}

func (m *consoleModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	title := m.snap.title
	if title == "" {
		title = m.room.RoomID()
	}
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s %s", IconRoom, title)))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), statusStyle(m.snap.status).Render(string(m.snap.status))))
	if m.snap.transport != "" {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("  via %s", m.snap.transport)))
	}
	b.WriteString("\n\n")

	b.WriteString(BoldStyle.Render("You  "))
	if m.host {
		b.WriteString(HostBadgeStyle.Render(IconHost+" host") + "  ")
	}
	b.WriteString(mediaIcons(m.snap.media.Audio, m.snap.media.Video))
	if m.snap.media.ScreenSharing {
		b.WriteString("  " + IconScreen + " sharing screen")
	}
	if m.snap.media.AudioOnly {
		b.WriteString(MutedStyle.Render("  (audio only)"))
	}
	b.WriteString("\n\n")

	if m.snap.status == room.StatusWaitingApproval {
		b.WriteString(PendingStyle.Render(IconWaiting+" The host has been asked to let you in") + "\n")
	} else {
		b.WriteString(ParticipantTableView(m.participantRows()))
		b.WriteString("\n")
	}

	if m.host && len(m.snap.pending) > 0 {
		b.WriteString("\n" + PendingStyle.Render("Waiting to join") + "\n")
		for i, p := range m.snap.pending {
			line := fmt.Sprintf("%s %s (%s)", IconKnock, p.Name, utils.ShortID(p.ID))
			if i == m.selected {
				line = SelectedStyle.Render(line)
			}
			b.WriteString("  " + line + "\n")
		}
	}

	if len(m.notes) > 0 {
		b.WriteString("\n" + PanelStyle.Render(strings.Join(m.notes, "\n")) + "\n")
	}

	b.WriteString(FooterStyle.Render(m.help()))
	return b.String()
}

func (m *consoleModel) participantRows() []ParticipantRow {
	rows := make([]ParticipantRow, 0, len(m.snap.participants))
	for _, p := range m.snap.participants {
		conn := "-"
		if st, ok := m.snap.states[p.ID]; ok {
			conn = st.String()
		}
		rows = append(rows, ParticipantRow{
			ID:         p.ID,
			Name:       p.Name,
			Host:       p.IsHost,
			Audio:      p.AudioEnabled,
			Video:      p.VideoEnabled,
			Connection: conn,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Host && !rows[j].Host })
	return rows
}

func (m *consoleModel) help() string {
	keys := []string{"m mic", "v camera", "s screen"}
	if m.host {
		keys = append(keys, "↑/↓ select", "a/r admit/reject", "A/R all")
	}
	keys = append(keys, "q leave")
	return strings.Join(keys, " • ")
}

// EndedNotice explains a status that ends the session, or returns "" for
// any other status.
func EndedNotice(s room.Status) string {
	var msg string
	switch s {
	case room.StatusRejected:
		msg = "The host declined your request to join."
	case room.StatusMediaDenied:
		msg = "Could not get a microphone or camera, so the room was not joined."
	case room.StatusSignalingUnavailable:
		msg = "Lost contact with every signaling transport."
	default:
		return ""
	}
	return ErrorBoxStyle.Render(fmt.Sprintf("%s %s", IconError, msg))
}

func statusStyle(s room.Status) lipgloss.Style {
	switch s {
	case room.StatusConnected:
		return SuccessStyle
	case room.StatusConnectionFailed, room.StatusMediaDenied, room.StatusRejected, room.StatusSignalingUnavailable:
		return ErrorStyle
	case room.StatusAudioOnly, room.StatusWaitingApproval, room.StatusWaitingParticipants:
		return WarningStyle
	default:
		return BoldStyle
	}
}
