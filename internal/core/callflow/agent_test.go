package callflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchange = domain.ExchangeID("ex-1")

var room = domain.RoomIDFor(exchange)

func TestDialHappyPath(t *testing.T) {
	r := newRig(t, time.Minute)
	ctx := context.Background()

	snap, err := r.agent.Dial(ctx, exchange, "bob", false)
	require.NoError(t, err)
	assert.Equal(t, domain.StateConnecting, snap.State)
	assert.Equal(t, room, snap.RoomID)
	assert.Equal(t, []string{domain.EventJoinCallRoom, domain.EventCallPresence}, r.sig.events())

	var presence domain.PresencePayload
	r.sig.last(t, domain.EventCallPresence, &presence)
	assert.Equal(t, domain.UserID("bob"), presence.CalleeID)
	assert.Equal(t, "Alice", presence.CallerName)

	// a candidate that arrives before the answer is queued
	r.sig.push(t, domain.EventICECandidate, "bob", domain.CandidatePayload{RoomID: room, Candidate: domain.ICECandidate{Candidate: "candidate:1"}})
	r.sig.push(t, domain.EventCallAccepted, "bob", domain.AnswerCallPayload{RoomID: room, ExchangeID: exchange})
	r.sig.push(t, domain.EventUserJoined, "", domain.MemberPayload{RoomID: room, UserID: "bob"})
	require.Eventually(t, func() bool { return r.sig.count(domain.EventOffer) == 1 }, time.Second, 5*time.Millisecond)

	r.sig.push(t, domain.EventAnswer, "bob", domain.DescriptionPayload{RoomID: room, Description: domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0"}})
	connected := r.waitState(t, domain.StateConnected)
	assert.False(t, connected.ConnectedAt.IsZero())

	assert.Equal(t, 1, r.sig.count(domain.EventOffer), "offer must be sent once")
	assert.Equal(t, 1, r.peers.count(), "one peer connection per session")
	assert.Equal(t, 1, r.peers.peer(0).remoteCandidates())
}

func TestIncomingAccept(t *testing.T) {
	r := newRig(t, time.Minute)

	r.sig.push(t, domain.EventCallIncoming, "bob", domain.IncomingPayload{RoomID: room, ExchangeID: exchange, CallerID: "bob"})
	snap := r.waitState(t, domain.StateIncoming)
	assert.Equal(t, domain.DirectionIncoming, snap.Direction)
	assert.Equal(t, domain.UserID("bob"), snap.PeerID)
	assert.Zero(t, r.peers.count(), "no peer before accepting")

	require.NoError(t, r.agent.Accept(context.Background()))
	r.waitState(t, domain.StateConnecting)
	assert.Equal(t, []string{domain.EventJoinCallRoom, domain.EventAcceptCall}, r.sig.events())

	r.sig.push(t, domain.EventOffer, "bob", domain.DescriptionPayload{RoomID: room, Description: domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0"}})
	r.waitState(t, domain.StateConnected)

	var answer domain.DescriptionPayload
	r.sig.last(t, domain.EventAnswer, &answer)
	assert.Equal(t, domain.SDPTypeAnswer, answer.Description.Type)

	assert.ErrorIs(t, r.agent.Accept(context.Background()), domain.ErrInvalidTransition)
}

func TestIncomingAutoDeclines(t *testing.T) {
	r := newRig(t, 50*time.Millisecond)

	r.sig.push(t, domain.EventCallIncoming, "bob", domain.IncomingPayload{RoomID: room, ExchangeID: exchange, CallerID: "bob"})
	snap := r.waitState(t, domain.StateEnded)
	assert.Equal(t, domain.EndTimeout, snap.EndReason)

	var reject domain.AnswerCallPayload
	r.sig.last(t, domain.EventRejectCall, &reject)
	assert.Equal(t, domain.EndTimeout, reject.Reason)
	assert.Equal(t, domain.UserID("bob"), reject.CallerID)
	assert.Equal(t, 1, r.sig.count(domain.EventRejectCall))
	assert.Zero(t, r.peers.count())
}

func TestAcceptStopsRingTimer(t *testing.T) {
	r := newRig(t, 80*time.Millisecond)

	r.sig.push(t, domain.EventCallIncoming, "bob", domain.IncomingPayload{RoomID: room, ExchangeID: exchange, CallerID: "bob"})
	r.waitState(t, domain.StateIncoming)
	require.NoError(t, r.agent.Accept(context.Background()))

	time.Sleep(150 * time.Millisecond)
	snap, _ := r.agent.Current()
	assert.Equal(t, domain.StateConnecting, snap.State)
	assert.Zero(t, r.sig.count(domain.EventRejectCall))
}

func TestDecline(t *testing.T) {
	r := newRig(t, time.Minute)

	r.sig.push(t, domain.EventCallIncoming, "bob", domain.IncomingPayload{RoomID: room, ExchangeID: exchange, CallerID: "bob"})
	r.waitState(t, domain.StateIncoming)
	require.NoError(t, r.agent.Decline(context.Background()))

	snap, _ := r.agent.Current()
	assert.Equal(t, domain.StateEnded, snap.State)
	assert.Equal(t, domain.EndDeclined, snap.EndReason)

	var reject domain.AnswerCallPayload
	r.sig.last(t, domain.EventRejectCall, &reject)
	assert.Equal(t, domain.EndDeclined, reject.Reason)
	assert.Zero(t, r.sig.count(domain.EventLeaveCallRoom), "a declined call never joined the room")

	assert.ErrorIs(t, r.agent.Decline(context.Background()), domain.ErrNoActiveCall)
}

func TestToggleMuteAndVideo(t *testing.T) {
	r := newRig(t, time.Minute)
	_, err := r.agent.Dial(context.Background(), exchange, "bob", false)
	require.NoError(t, err)

	stream := r.devices.stream(0)
	var mic, cam *fakeTrack
	for _, tr := range stream.tracks {
		switch tr.kind {
		case domain.KindAudio:
			mic = tr
		case domain.KindVideo:
			cam = tr
		}
	}
	require.NotNil(t, mic)
	require.NotNil(t, cam)

	muted, err := r.agent.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	assert.False(t, mic.Enabled())
	assert.True(t, cam.Enabled())

	muted, err = r.agent.ToggleMute()
	require.NoError(t, err)
	assert.False(t, muted)
	assert.True(t, mic.Enabled())

	off, err := r.agent.ToggleVideo()
	require.NoError(t, err)
	assert.True(t, off)
	assert.False(t, cam.Enabled())
	assert.True(t, mic.Enabled())

	snap, _ := r.agent.Current()
	assert.True(t, snap.IsVideoOff)
	assert.False(t, snap.IsMuted)
}

func TestMuteBeforeAcceptAppliesOnAcquire(t *testing.T) {
	r := newRig(t, time.Minute)

	r.sig.push(t, domain.EventCallIncoming, "bob", domain.IncomingPayload{RoomID: room, ExchangeID: exchange, CallerID: "bob", AudioOnly: true})
	r.waitState(t, domain.StateIncoming)

	muted, err := r.agent.ToggleMute()
	require.NoError(t, err)
	require.True(t, muted)

	require.NoError(t, r.agent.Accept(context.Background()))
	assert.False(t, r.devices.last.Video, "audio-only call must not open the camera")

	stream := r.devices.stream(0)
	require.Len(t, stream.tracks, 1)
	assert.False(t, stream.tracks[0].Enabled())
}

func TestMuteDuringAcquireMatchesSnapshot(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := newRig(t, time.Minute)
		toggled := make(chan struct{})
		go func() {
			defer close(toggled)
			_, _ = r.agent.ToggleMute()
		}()
		_, err := r.agent.Dial(context.Background(), exchange, "bob", true)
		require.NoError(t, err)
		<-toggled

		snap, _ := r.agent.Current()
		mic := r.devices.stream(0).tracks[0]
		require.Equal(t, !snap.IsMuted, mic.Enabled(), "run %d", i)
		r.agent.Close()
	}
}

func TestEndingReleasesMedia(t *testing.T) {
	tests := []struct {
		name   string
		end    func(t *testing.T, r *rig)
		reason domain.EndReason
	}{
		{
			name: "hang up",
			end: func(t *testing.T, r *rig) {
				require.NoError(t, r.agent.HangUp(context.Background()))
			},
			reason: domain.EndHangup,
		},
		{
			name: "remote end",
			end: func(t *testing.T, r *rig) {
				r.sig.push(t, domain.EventEndCall, "bob", domain.RoomRef{RoomID: room})
			},
			reason: domain.EndRemoteEnded,
		},
		{
			name: "remote reject",
			end: func(t *testing.T, r *rig) {
				r.sig.push(t, domain.EventCallRejected, "bob", domain.AnswerCallPayload{RoomID: room, Reason: domain.EndDeclined})
			},
			reason: domain.EndRemoteRejected,
		},
		{
			name: "transport failure",
			end: func(t *testing.T, r *rig) {
				r.peers.peer(0).onState(domain.TransportFailed)
			},
			reason: domain.EndTransportFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, time.Minute)
			_, err := r.agent.Dial(context.Background(), exchange, "bob", false)
			require.NoError(t, err)

			tt.end(t, r)
			snap := r.waitState(t, domain.StateEnded)
			assert.Equal(t, tt.reason, snap.EndReason)
			assert.True(t, r.devices.allStopped(), "media tracks must be released")
			assert.True(t, r.peers.peer(0).isClosed(), "peer must be closed")
			require.Eventually(t, func() bool { return r.sig.count(domain.EventLeaveCallRoom) == 1 }, time.Second, 5*time.Millisecond,
				"the room must be left")

			var leave domain.RoomRef
			r.sig.last(t, domain.EventLeaveCallRoom, &leave)
			assert.Equal(t, domain.RoomRef{RoomID: room, ExchangeID: exchange}, leave)
		})
	}
}

func TestNegotiationFailureEndsCall(t *testing.T) {
	r := newRig(t, time.Minute)
	r.peers.offerErr = errors.New("no codecs")

	_, err := r.agent.Dial(context.Background(), exchange, "bob", false)
	require.NoError(t, err)
	r.sig.push(t, domain.EventCallAccepted, "bob", domain.AnswerCallPayload{RoomID: room})

	snap := r.waitState(t, domain.StateEnded)
	assert.Equal(t, domain.EndNegotiationFailed, snap.EndReason)
	assert.Equal(t, 1, r.sig.count(domain.EventEndCall))
	assert.True(t, r.devices.allStopped())
}

func TestMediaFailureEndsCall(t *testing.T) {
	r := newRig(t, time.Minute)
	r.devices.err = errors.New("permission denied")

	snap, err := r.agent.Dial(context.Background(), exchange, "bob", false)
	require.Error(t, err)
	assert.Equal(t, domain.StateEnded, snap.State)
	assert.Equal(t, domain.EndMediaFailed, snap.EndReason)
	assert.Zero(t, r.peers.count())
	assert.Empty(t, r.sig.events())

	// the slot is free again
	r.devices.err = nil
	_, err = r.agent.Dial(context.Background(), exchange, "bob", true)
	require.NoError(t, err)
}

func TestBusyRejectsSecondCall(t *testing.T) {
	r := newRig(t, time.Minute)
	_, err := r.agent.Dial(context.Background(), exchange, "bob", false)
	require.NoError(t, err)

	_, err = r.agent.Dial(context.Background(), "ex-2", "carol", false)
	assert.ErrorIs(t, err, domain.ErrCallInProgress)

	r.sig.push(t, domain.EventCallIncoming, "carol", domain.IncomingPayload{RoomID: domain.RoomIDFor("ex-2"), ExchangeID: "ex-2", CallerID: "carol"})
	require.Eventually(t, func() bool { return r.sig.count(domain.EventRejectCall) == 1 }, time.Second, 5*time.Millisecond)

	var reject domain.AnswerCallPayload
	r.sig.last(t, domain.EventRejectCall, &reject)
	assert.Equal(t, domain.EndBusy, reject.Reason)
	assert.Equal(t, domain.UserID("carol"), reject.CallerID)

	snap, _ := r.agent.Current()
	assert.Equal(t, room, snap.RoomID)
	assert.Equal(t, domain.StateConnecting, snap.State)
}

func TestRepeatedIncomingKeepsRinging(t *testing.T) {
	r := newRig(t, time.Minute)
	incoming := domain.IncomingPayload{RoomID: room, ExchangeID: exchange, CallerID: "bob"}

	r.sig.push(t, domain.EventCallIncoming, "bob", incoming)
	r.waitState(t, domain.StateIncoming)
	r.sig.push(t, domain.EventCallIncoming, "bob", incoming)
	require.Eventually(t, func() bool { return len(r.sig.inbound) == 0 }, time.Second, time.Millisecond)

	require.NoError(t, r.agent.Accept(context.Background()))
	assert.Zero(t, r.sig.count(domain.EventRejectCall))
}

func TestLocalCandidatesAreEmitted(t *testing.T) {
	r := newRig(t, time.Minute)
	_, err := r.agent.Dial(context.Background(), exchange, "bob", false)
	require.NoError(t, err)

	r.peers.peer(0).onCandidate(domain.ICECandidate{Candidate: "candidate:local"})

	var c domain.CandidatePayload
	r.sig.last(t, domain.EventICECandidate, &c)
	assert.Equal(t, room, c.RoomID)
	assert.Equal(t, "candidate:local", c.Candidate.Candidate)
}

func TestTransportConnectedMarksConnected(t *testing.T) {
	r := newRig(t, time.Minute)
	_, err := r.agent.Dial(context.Background(), exchange, "bob", false)
	require.NoError(t, err)

	r.peers.peer(0).onState(domain.TransportConnected)
	r.waitState(t, domain.StateConnected)
}

func TestEventsForOtherRoomsAreIgnored(t *testing.T) {
	r := newRig(t, time.Minute)
	_, err := r.agent.Dial(context.Background(), exchange, "bob", false)
	require.NoError(t, err)

	r.sig.push(t, domain.EventEndCall, "mallory", domain.RoomRef{RoomID: "call-other"})
	r.sig.push(t, domain.EventCallAccepted, "bob", domain.AnswerCallPayload{RoomID: room})
	require.Eventually(t, func() bool { return r.sig.count(domain.EventOffer) == 1 }, time.Second, 5*time.Millisecond)

	snap, _ := r.agent.Current()
	assert.Equal(t, domain.StateConnecting, snap.State)
}

func TestObserversSeeEveryState(t *testing.T) {
	r := newRig(t, time.Minute)
	states := make(chan domain.CallState, 16)
	r.agent.OnStateChange(func(s domain.CallSnapshot) { states <- s.State })

	_, err := r.agent.Dial(context.Background(), exchange, "bob", false)
	require.NoError(t, err)
	require.NoError(t, r.agent.HangUp(context.Background()))

	assert.Equal(t, domain.StateOutgoing, <-states)
	assert.Equal(t, domain.StateConnecting, <-states)
	assert.Equal(t, domain.StateEnded, <-states)
}

func TestSignalingLossEndsCall(t *testing.T) {
	r := newRig(t, time.Minute)
	_, err := r.agent.Dial(context.Background(), exchange, "bob", false)
	require.NoError(t, err)

	close(r.sig.inbound)
	snap := r.waitState(t, domain.StateEnded)
	assert.Equal(t, domain.EndTransportFailed, snap.EndReason)
	assert.True(t, r.devices.allStopped())
}
