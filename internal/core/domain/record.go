package domain

import "time"

type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallAnswered  CallStatus = "answered"
	CallRejected  CallStatus = "rejected"
	CallMissed    CallStatus = "missed"
	CallCancelled CallStatus = "cancelled"
	CallEnded     CallStatus = "ended"
)

// Open reports whether the call has not reached a final status yet.
func (s CallStatus) Open() bool {
	return s == CallRinging || s == CallAnswered
}

// CallRecord is the server-side history entry of one call attempt.
type CallRecord struct {
	ID         CallID     `json:"id"`
	ExchangeID ExchangeID `json:"exchangeId"`
	RoomID     RoomID     `json:"roomId"`
	CallerID   UserID     `json:"callerId"`
	CalleeID   UserID     `json:"calleeId"`
	AudioOnly  bool       `json:"audioOnly"`
	Status     CallStatus `json:"status"`
	EndReason  EndReason  `json:"endReason,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	AnsweredAt time.Time  `json:"answeredAt,omitzero"`
	EndedAt    time.Time  `json:"endedAt,omitzero"`
}

func NewCallRecord(exchangeID ExchangeID, callerID, calleeID UserID, audioOnly bool) *CallRecord {
	return &CallRecord{
		ID:         NewCallID(),
		ExchangeID: exchangeID,
		RoomID:     RoomIDFor(exchangeID),
		CallerID:   callerID,
		CalleeID:   calleeID,
		AudioOnly:  audioOnly,
		Status:     CallRinging,
		StartedAt:  time.Now().UTC(),
	}
}

func (r *CallRecord) Answer(at time.Time) {
	if r.Status != CallRinging {
		return
	}
	r.Status = CallAnswered
	r.AnsweredAt = at
}

// Reject closes a ringing call. A timeout counts as missed.
func (r *CallRecord) Reject(reason EndReason, at time.Time) {
	if r.Status != CallRinging {
		return
	}
	r.Status = CallRejected
	if reason == EndTimeout {
		r.Status = CallMissed
	}
	r.EndReason = reason
	r.EndedAt = at
}

// Finish closes an open call. A call that never got answered is cancelled.
func (r *CallRecord) Finish(reason EndReason, at time.Time) {
	switch r.Status {
	case CallRinging:
		r.Status = CallCancelled
	case CallAnswered:
		r.Status = CallEnded
	default:
		return
	}
	r.EndReason = reason
	r.EndedAt = at
}

// Duration is the answered time of the call, zero if it never connected.
func (r *CallRecord) Duration() time.Duration {
	if r.AnsweredAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.AnsweredAt)
}
