package room

import (
	"sort"
	"time"

	"github.com/BioHazard786/warpmeet/internal/peer"
)

// Participant is a remote member of the room. The local user is never
// one of them.
type Participant struct {
	ID           string
	Name         string
	AudioEnabled bool
	VideoEnabled bool
	IsHost       bool

	// Stream is set once the first remote track arrives.
	Stream   *peer.RemoteTrack
	JoinedAt time.Time

	seq int
}

// PendingParticipant is a join request waiting for the host's decision.
type PendingParticipant struct {
	ID          string
	Name        string
	RequestedAt time.Time

	seq int
}

// membership is the local view of who is in the room. A remote id is in
// at most one of participants and pending.
type membership struct {
	participants map[string]*Participant
	pending      map[string]*PendingParticipant
	// rejected remembers ids the host turned away so resent requests
	// stay ignored.
	rejected map[string]bool
	seq      int
}

func newMembership() *membership {
	return &membership{
		participants: make(map[string]*Participant),
		pending:      make(map[string]*PendingParticipant),
		rejected:     make(map[string]bool),
	}
}

func (m *membership) known(id string) bool {
	_, isParticipant := m.participants[id]
	_, isPending := m.pending[id]
	return isParticipant || isPending
}

// addParticipant promotes id to participant, removing any pending entry.
// It reports false if id already was a participant.
func (m *membership) addParticipant(p Participant) (*Participant, bool) {
	if existing, ok := m.participants[p.ID]; ok {
		return existing, false
	}
	delete(m.pending, p.ID)
	m.seq++
	p.seq = m.seq
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	m.participants[p.ID] = &p
	return &p, true
}

func (m *membership) addPending(p PendingParticipant) bool {
	if m.known(p.ID) || m.rejected[p.ID] {
		return false
	}
	m.seq++
	p.seq = m.seq
	m.pending[p.ID] = &p
	return true
}

func (m *membership) takePending(id string) (*PendingParticipant, bool) {
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	return p, ok
}

func (m *membership) removeParticipant(id string) bool {
	if _, ok := m.participants[id]; !ok {
		return false
	}
	delete(m.participants, id)
	return true
}

func (m *membership) participantList() []Participant {
	list := make([]Participant, 0, len(m.participants))
	for _, p := range m.participants {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}

func (m *membership) pendingList() []PendingParticipant {
	list := make([]PendingParticipant, 0, len(m.pending))
	for _, p := range m.pending {
		list = append(list, *p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}

func (m *membership) pendingIDs() []string {
	list := m.pendingList()
	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	return ids
}

func (m *membership) reset() {
	m.participants = make(map[string]*Participant)
	m.pending = make(map[string]*PendingParticipant)
}
