package callflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/Wyydra/learnloop/internal/core/port"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	Event string
	Data  json.RawMessage
}

type fakeSignaling struct {
	mu      sync.Mutex
	sent    []emitted
	inbound chan domain.Envelope
	failOn  string
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{inbound: make(chan domain.Envelope, 16)}
}

func (f *fakeSignaling) Emit(ctx context.Context, event string, payload any) error {
	if event == f.failOn {
		return errors.New("socket closed")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, emitted{Event: event, Data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaling) Subscribe() (<-chan domain.Envelope, func()) {
	return f.inbound, func() {}
}

func (f *fakeSignaling) push(t *testing.T, event string, from domain.UserID, payload any) {
	t.Helper()
	env, err := domain.NewEnvelope(event, from, payload)
	require.NoError(t, err)
	f.inbound <- env
}

func (f *fakeSignaling) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, e := range f.sent {
		out = append(out, e.Event)
	}
	return out
}

func (f *fakeSignaling) count(event string) int {
	n := 0
	for _, e := range f.events() {
		if e == event {
			n++
		}
	}
	return n
}

// last decodes the payload of the most recent emission of event.
func (f *fakeSignaling) last(t *testing.T, event string, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Event == event {
			require.NoError(t, json.Unmarshal(f.sent[i].Data, v))
			return
		}
	}
	t.Fatalf("no %s emitted", event)
}

type fakeTrack struct {
	id      string
	kind    domain.MediaKind
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.MediaKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeStream struct {
	tracks []*fakeTrack
}

func (s *fakeStream) Tracks() []port.Track {
	out := make([]port.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *fakeStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

type fakeDevices struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
	last    domain.MediaConstraints
}

func (d *fakeDevices) Acquire(ctx context.Context, c domain.MediaConstraints) (port.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = c
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{}
	if c.Audio {
		s.tracks = append(s.tracks, &fakeTrack{id: "mic", kind: domain.KindAudio, enabled: true})
	}
	if c.Video {
		s.tracks = append(s.tracks, &fakeTrack{id: "cam", kind: domain.KindVideo, enabled: true})
	}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevices) allStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.streams {
		for _, t := range s.tracks {
			if !t.isStopped() {
				return false
			}
		}
	}
	return true
}

func (d *fakeDevices) stream(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}

type fakePeer struct {
	mu          sync.Mutex
	onCandidate func(domain.ICECandidate)
	onState     func(domain.TransportState)
	remote      []domain.SessionDescription
	candidates  []domain.ICECandidate
	streams     int
	closed      bool
	offerErr    error
}

func (p *fakePeer) AddStream(stream port.MediaStream) error {
	p.mu.Lock()
	p.streams++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if p.offerErr != nil {
		return domain.SessionDescription{}, p.offerErr
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	p.mu.Lock()
	p.remote = append(p.remote, desc)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) AddICECandidate(ctx context.Context, c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remote) == 0 {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(domain.ICECandidate))  { p.onCandidate = fn }
func (p *fakePeer) OnStateChange(fn func(domain.TransportState)) { p.onState = fn }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) remoteCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

type fakePeers struct {
	mu       sync.Mutex
	created  []*fakePeer
	offerErr error
}

func (f *fakePeers) NewPeer() (port.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{offerErr: f.offerErr}
	f.created = append(f.created, p)
	return p, nil
}

func (f *fakePeers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakePeers) peer(i int) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

type rig struct {
	sig     *fakeSignaling
	devices *fakeDevices
	peers   *fakePeers
	agent   *Agent
}

func newRig(t *testing.T, ring time.Duration) *rig {
	t.Helper()
	r := &rig{
		sig:     newFakeSignaling(),
		devices: &fakeDevices{},
		peers:   &fakePeers{},
	}
	r.agent = NewAgent(Config{Self: "alice", DisplayName: "Alice", RingTimeout: ring}, r.sig, r.devices, r.peers)
	t.Cleanup(r.agent.Close)
	return r
}

func (r *rig) waitState(t *testing.T, want domain.CallState) domain.CallSnapshot {
	t.Helper()
	var snap domain.CallSnapshot
	require.Eventually(t, func() bool {
		var ok bool
		snap, ok = r.agent.Current()
		return ok && snap.State == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for state %s", want)
	return snap
}
