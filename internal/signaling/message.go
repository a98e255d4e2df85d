package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Broadcast is the recipient of messages addressed to every participant.
const Broadcast = "all"

// Message is the signaling envelope exchanged between participants of a room.
// Data holds the type-specific payload as raw JSON.
type Message struct {
	Type      string          `json:"type" msgpack:"type"`
	From      string          `json:"from" msgpack:"from"`
	To        string          `json:"to" msgpack:"to"`
	Data      json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`
	Timestamp int64           `json:"timestamp" msgpack:"timestamp"`
}

// Message type constants.
const (
	TypeRoomCreated       = "room_created"
	TypeJoinRequest       = "join_request"
	TypeJoinApproved      = "join_approved"
	TypeJoinRejected      = "join_rejected"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeOffer             = "webrtc_offer"
	TypeAnswer            = "webrtc_answer"
	TypeICECandidate      = "webrtc_ice_candidate"
	TypeMediaStateChanged = "media_state_changed"
)

// RoomCreatedPayload announces the room title to clients already listening.
type RoomCreatedPayload struct {
	HostID    string `json:"hostId"`
	HostName  string `json:"hostName"`
	RoomTitle string `json:"roomTitle,omitempty"`
}

// JoinRequestPayload is sent by a participant asking the host for admission.
type JoinRequestPayload struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
}

// JoinApprovedPayload lets the admitted participant label the host.
// Both fields are optional.
type JoinApprovedPayload struct {
	HostName  string `json:"hostName,omitempty"`
	RoomTitle string `json:"roomTitle,omitempty"`
}

// JoinRejectedPayload carries the optional reason for a rejection.
type JoinRejectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ParticipantJoinedPayload announces a newly admitted participant.
type ParticipantJoinedPayload struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
}

// ParticipantLeftPayload announces a participant leaving the room.
type ParticipantLeftPayload struct {
	ParticipantID string `json:"participantId"`
}

type OfferPayload struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type ICECandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// MediaStatePayload reports a participant's current audio and video flags.
type MediaStatePayload struct {
	ParticipantID  string `json:"participantId"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

// NewMessage builds a message with data encoded as JSON. The timestamp is
// assigned by the Session when the message is sent.
func NewMessage(msgType, to string, data any) (*Message, error) {
	msg := &Message{Type: msgType, To: to}
	if data == nil {
		data = struct{}{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg.Data = raw
	return msg, nil
}

// DecodeData unmarshals the message payload into v.
func (m *Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: %w", m.Type, ErrEmptyPayload)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Addressed reports whether the message is meant for id.
func (m *Message) Addressed(id string) bool {
	return m.To == id || m.To == Broadcast
}
