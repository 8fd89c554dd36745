package domain

import (
	"encoding/json"
	"time"
)

// Event names carried on the signaling socket.
const (
	EventJoinCallRoom  = "join-call-room"
	EventLeaveCallRoom = "leave-call-room"
	EventCallPresence  = "call-presence"
	EventOffer         = "webrtc-offer"
	EventAnswer        = "webrtc-answer"
	EventICECandidate  = "webrtc-ice-candidate"
	EventAcceptCall    = "accept-call"
	EventRejectCall    = "reject-call"
	EventEndCall       = "end-call"
	EventCallIncoming  = "call-incoming"
	EventCallAccepted  = "call-accepted"
	EventCallRejected  = "call-rejected"
	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
	EventCallChat      = "call-chat"
	EventConnected     = "connected"
	EventError         = "error"
)

// Envelope is one message on the signaling socket. Data is kept raw so the
// relay can pass negotiation payloads through untouched.
type Envelope struct {
	Event string          `json:"event"`
	From  UserID          `json:"from,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, from UserID, payload any) (Envelope, error) {
	env := Envelope{Event: event, From: from}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// RoomRef is the part every room-scoped payload shares.
type RoomRef struct {
	RoomID     RoomID     `json:"roomId"`
	ExchangeID ExchangeID `json:"exchangeId,omitempty"`
}

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// ICECandidate follows the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type PresencePayload struct {
	RoomID     RoomID     `json:"roomId"`
	ExchangeID ExchangeID `json:"exchangeId"`
	CalleeID   UserID     `json:"calleeId,omitempty"`
	CallerName string     `json:"callerName,omitempty"`
	AudioOnly  bool       `json:"audioOnly"`
}

type IncomingPayload struct {
	RoomID     RoomID     `json:"roomId"`
	ExchangeID ExchangeID `json:"exchangeId"`
	CallerID   UserID     `json:"callerId"`
	CallerName string     `json:"callerName,omitempty"`
	AudioOnly  bool       `json:"audioOnly"`
	CallID     string     `json:"callId,omitempty"`
}

type DescriptionPayload struct {
	RoomID      RoomID             `json:"roomId"`
	Description SessionDescription `json:"description"`
}

type CandidatePayload struct {
	RoomID    RoomID       `json:"roomId"`
	Candidate ICECandidate `json:"candidate"`
}

// AnswerCallPayload is shared by accept-call, reject-call and their
// server-side counterparts.
type AnswerCallPayload struct {
	RoomID     RoomID     `json:"roomId"`
	ExchangeID ExchangeID `json:"exchangeId"`
	CallerID   UserID     `json:"callerId,omitempty"`
	Reason     EndReason  `json:"reason,omitempty"`
}

type MemberPayload struct {
	RoomID RoomID `json:"roomId"`
	UserID UserID `json:"userId"`
}

type ChatPayload struct {
	RoomID  RoomID `json:"roomId"`
	Content string `json:"content"`
}

type ChatMessagePayload struct {
	RoomID    RoomID    `json:"roomId"`
	ID        string    `json:"id"`
	SenderID  UserID    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewChatMessagePayload(msg Message) ChatMessagePayload {
	return ChatMessagePayload{
		RoomID:    msg.RoomID,
		ID:        msg.ID.String(),
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

type ConnectedPayload struct {
	UserID   UserID `json:"userId"`
	ClientID string `json:"clientId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
