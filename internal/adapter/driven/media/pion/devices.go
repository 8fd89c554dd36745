package pion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/Wyydra/learnloop/internal/core/port"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const audioFrame = 20 * time.Millisecond

// opusSilence is a single Opus frame that decodes to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var errNoMedia = errors.New("no audio or video requested")

// Devices hands out synthetic local tracks. Audio carries Opus silence while
// enabled; video is negotiated but carries no frames since there is no
// capture backend.
type Devices struct{}

func NewDevices() *Devices {
	return &Devices{}
}

func (d *Devices) Acquire(ctx context.Context, c domain.MediaConstraints) (port.MediaStream, error) {
	if !c.Audio && !c.Video {
		return nil, errNoMedia
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "learnloop-" + uuid.NewString()
	s := &Stream{}
	if c.Audio {
		t, err := newTrack(domain.KindAudio, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, streamID)
		if err != nil {
			return nil, err
		}
		go t.pumpSilence()
		s.tracks = append(s.tracks, t)
	}
	if c.Video {
		t, err := newTrack(domain.KindVideo, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, streamID)
		if err != nil {
			s.Stop()
			return nil, err
		}
		s.tracks = append(s.tracks, t)
	}
	return s, nil
}

type Stream struct {
	tracks []*Track
}

func (s *Stream) Tracks() []port.Track {
	out := make([]port.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Track is a local sample track with a mute switch.
type Track struct {
	local    *webrtc.TrackLocalStaticSample
	kind     domain.MediaKind
	enabled  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
}

func newTrack(kind domain.MediaKind, codec webrtc.RTPCodecCapability, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{local: local, kind: kind, stopped: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) ID() string             { return t.local.ID() }
func (t *Track) Kind() domain.MediaKind { return t.kind }
func (t *Track) Enabled() bool          { return t.enabled.Load() }

func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *Track) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

func (t *Track) pumpSilence() {
	ticker := time.NewTicker(audioFrame)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			if err := t.local.WriteSample(media.Sample{Data: opusSilence, Duration: audioFrame}); err != nil {
				log.Debug().Err(err).Msg("Write audio sample")
			}
		}
	}
}
