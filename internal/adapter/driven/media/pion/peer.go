// Package pion implements the call media ports on top of pion/webrtc.
package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/Wyydra/learnloop/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const pliInterval = 3 * time.Second

// ICEServers builds the pion server list from configured URLs. Credentials
// apply to every URL.
func ICEServers(urls []string, username, credential string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{
		URLs:       urls,
		Username:   username,
		Credential: credential,
	}}
}

// PeerFactory creates peer connections that share one media engine.
type PeerFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewPeerFactory(iceServers []webrtc.ICEServer) (*PeerFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// A short relay outage should not end the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	return &PeerFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		config: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

func (f *PeerFactory) NewPeer() (port.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	p := &Peer{pc: pc, done: make(chan struct{})}
	pc.OnICECandidate(p.handleCandidate)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.handleState(transportState(s))
	})
	pc.OnTrack(p.handleTrack)
	return p, nil
}

// Peer implements port.PeerConnection.
type Peer struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onCandidate func(domain.ICECandidate)
	onState     func(domain.TransportState)

	closeOnce sync.Once
	done      chan struct{}
}

func (p *Peer) OnICECandidate(fn func(domain.ICECandidate)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *Peer) OnStateChange(fn func(domain.TransportState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *Peer) handleCandidate(c *webrtc.ICECandidate) {
	// nil marks the end of gathering.
	if c == nil {
		return
	}
	init := c.ToJSON()
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	}
}

func (p *Peer) handleState(s domain.TransportState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (p *Peer) handleTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	log.Debug().Str("kind", remote.Kind().String()).Str("codec", remote.Codec().MimeType).Msg("Received remote track")

	// Reading drives the interceptors; the samples themselves are not played.
	go func() {
		for {
			if _, _, err := remote.ReadRTP(); err != nil {
				return
			}
		}
	}()

	if remote.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	go func() {
		sendPLI := func() {
			if err := p.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
			}); err != nil {
				log.Debug().Err(err).Msg("Failed to send PLI")
			}
		}
		sendPLI()

		ticker := time.NewTicker(pliInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				sendPLI()
			}
		}
	}()
}

// AddStream attaches every track of a stream acquired from Devices.
func (p *Peer) AddStream(stream port.MediaStream) error {
	for _, t := range stream.Tracks() {
		local, ok := t.(*Track)
		if !ok {
			return fmt.Errorf("track %s is not a pion track", t.ID())
		}
		if _, err := p.pc.AddTrack(local.local); err != nil {
			return fmt.Errorf("add %s track: %w", local.kind, err)
		}
	}
	return nil
}

func (p *Peer) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *Peer) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *Peer) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	typ := webrtc.NewSDPType(desc.Type)
	if typ == webrtc.SDPTypeUnknown {
		return fmt.Errorf("unknown sdp type %q", desc.Type)
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: desc.SDP})
}

func (p *Peer) AddICECandidate(ctx context.Context, c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.pc.Close()
	})
	if errors.Is(err, webrtc.ErrConnectionClosed) {
		return nil
	}
	return err
}

func transportState(s webrtc.PeerConnectionState) domain.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.TransportClosed
	default:
		return domain.TransportNew
	}
}
