package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallStateTransitions(t *testing.T) {
	tests := []struct {
		from, to CallState
		ok       bool
	}{
		{StateOutgoing, StateConnecting, true},
		{StateOutgoing, StateEnded, true},
		{StateIncoming, StateConnecting, true},
		{StateIncoming, StateEnded, true},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateEnded, true},
		{StateConnected, StateEnded, true},
		{StateIncoming, StateConnected, false},
		{StateOutgoing, StateConnected, false},
		{StateConnected, StateConnecting, false},
		{StateEnded, StateConnecting, false},
		{StateEnded, StateEnded, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := tt.from.Transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, got)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			assert.Equal(t, tt.from, got)
		})
	}
}

func TestRoomIDFor(t *testing.T) {
	room := RoomIDFor("ex-42")
	assert.Equal(t, RoomID("call-ex-42"), room)

	ex, ok := room.ExchangeID()
	require.True(t, ok)
	assert.Equal(t, ExchangeID("ex-42"), ex)

	_, ok = RoomID("lobby").ExchangeID()
	assert.False(t, ok)
	_, ok = RoomID("call-").ExchangeID()
	assert.False(t, ok)
}

func TestCallRecordLifecycle(t *testing.T) {
	start := time.Now()

	t.Run("answered then ended", func(t *testing.T) {
		rec := NewCallRecord("ex", "alice", "bob", false)
		assert.Equal(t, CallRinging, rec.Status)
		rec.Answer(start)
		rec.Finish(EndHangup, start.Add(90*time.Second))
		assert.Equal(t, CallEnded, rec.Status)
		assert.Equal(t, 90*time.Second, rec.Duration())
	})

	t.Run("timeout is missed", func(t *testing.T) {
		rec := NewCallRecord("ex", "alice", "bob", false)
		rec.Reject(EndTimeout, start)
		assert.Equal(t, CallMissed, rec.Status)
		assert.Zero(t, rec.Duration())
	})

	t.Run("declined is rejected", func(t *testing.T) {
		rec := NewCallRecord("ex", "alice", "bob", true)
		rec.Reject(EndDeclined, start)
		assert.Equal(t, CallRejected, rec.Status)
		assert.False(t, rec.Status.Open())
	})

	t.Run("hangup before answer is cancelled", func(t *testing.T) {
		rec := NewCallRecord("ex", "alice", "bob", false)
		rec.Finish(EndHangup, start)
		assert.Equal(t, CallCancelled, rec.Status)
	})

	t.Run("final status is sticky", func(t *testing.T) {
		rec := NewCallRecord("ex", "alice", "bob", false)
		rec.Reject(EndDeclined, start)
		rec.Answer(start)
		rec.Finish(EndHangup, start)
		assert.Equal(t, CallRejected, rec.Status)
	})
}

func TestNewMessage(t *testing.T) {
	_, err := NewMessage("alice", "call-ex", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = NewMessage("alice", "", "hi")
	assert.ErrorIs(t, err, ErrMissingRoom)

	msg, err := NewMessage("alice", "call-ex", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestEnvelopeDecode(t *testing.T) {
	env, err := NewEnvelope(EventOffer, "alice", DescriptionPayload{
		RoomID:      "call-ex",
		Description: SessionDescription{Type: SDPTypeOffer, SDP: "v=0"},
	})
	require.NoError(t, err)

	var ref RoomRef
	require.NoError(t, env.Decode(&ref))
	assert.Equal(t, RoomID("call-ex"), ref.RoomID)

	empty := Envelope{Event: EventEndCall}
	require.NoError(t, empty.Decode(&ref))
}
