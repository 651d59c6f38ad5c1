// Package voice implements the push-to-talk capture pipeline: microphone
// acquisition, recording, WAV assembly, and upload to the voice exchange.
//
// The pipeline is a three-state machine (idle → recording → uploading →
// idle). At most one recording session exists per pipeline, and the
// microphone handle is held exclusively between StartCapture and the matching
// StopCapture or Abort. Playback of the synthesized reply is not the
// pipeline's job; the engine owns the playback handle.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soulink-ai/soulink/pkg/audio"
	"github.com/soulink-ai/soulink/pkg/chatwire"
)

// ErrInvalidState is returned when capture is started or stopped from a
// state that does not permit it.
var ErrInvalidState = errors.New("voice: operation not allowed in current state")

// ErrPermissionDenied is returned when the microphone cannot be acquired,
// either because access was refused or the device is unavailable. The
// failure leaves the pipeline idle and is never retried automatically.
var ErrPermissionDenied = errors.New("voice: microphone access denied or device unavailable")

// State is the pipeline's capture state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateUploading
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateUploading:
		return "uploading"
	default:
		return "unknown"
	}
}

// Uploader dispatches the assembled audio payload to the voice exchange.
// Implemented by [chatwire.Client].
type Uploader interface {
	SendVoice(ctx context.Context, characterID string, wavData []byte) (*chatwire.VoiceReply, error)
}

// Config configures a [Pipeline].
type Config struct {
	// Device is the exclusive microphone handle. Must not be nil.
	Device audio.InputDevice

	// Uploader performs the voice exchange. Must not be nil.
	Uploader Uploader

	// CharacterID addresses the voice exchange endpoint.
	CharacterID string

	// SampleRate and Channels describe the capture format for WAV assembly.
	// Zero values use the audio package defaults.
	SampleRate int
	Channels   int
}

// Pipeline is the push-to-talk state machine. All methods are safe for
// concurrent use.
type Pipeline struct {
	device      audio.InputDevice
	uploader    Uploader
	characterID string
	sampleRate  int
	channels    int

	mu     sync.Mutex
	state  State
	chunks [][]int16
}

// New creates an idle Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = audio.DefaultChannels
	}
	return &Pipeline{
		device:      cfg.Device,
		uploader:    cfg.Uploader,
		characterID: cfg.CharacterID,
		sampleRate:  cfg.SampleRate,
		channels:    cfg.Channels,
	}
}

// State returns the current capture state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// StartCapture acquires the microphone and opens a recording session.
//
// It fails with [ErrInvalidState] if a session is already active or an
// upload is in flight, and with [ErrPermissionDenied] if the device cannot
// be acquired; in the latter case the pipeline remains idle.
func (p *Pipeline) StartCapture() error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrInvalidState
	}
	p.state = StateRecording
	p.chunks = nil
	p.mu.Unlock()

	if err := p.device.Open(p.onFrame); err != nil {
		p.mu.Lock()
		p.state = StateIdle
		p.chunks = nil
		p.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return nil
}

// onFrame buffers one captured PCM frame. Frames arriving outside an active
// recording (the device tail after a stop) are discarded.
func (p *Pipeline) onFrame(samples []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRecording {
		p.chunks = append(p.chunks, samples)
	}
}

// StopCapture ends the recording session, releases the microphone, and
// performs the upload exchange, blocking until the reply arrives.
//
// Calling StopCapture while idle is a no-op and returns (nil, nil).
// Calling it while an upload is in flight fails with [ErrInvalidState].
// Upload failures return an error with no transcript side effects; the
// caller decides whether to surface them.
func (p *Pipeline) StopCapture(ctx context.Context) (*chatwire.VoiceReply, error) {
	p.mu.Lock()
	switch p.state {
	case StateIdle:
		p.mu.Unlock()
		return nil, nil
	case StateUploading:
		p.mu.Unlock()
		return nil, ErrInvalidState
	}

	samples := p.assembleLocked()
	p.state = StateUploading
	p.mu.Unlock()

	// Release the microphone before the upload: the device must not be
	// held while waiting on the network.
	if err := p.device.Close(); err != nil {
		slog.Warn("voice: releasing microphone failed", "err", err)
	}

	payload := audio.EncodeWAV(samples, p.sampleRate, p.channels)
	reply, err := p.uploader.SendVoice(ctx, p.characterID, payload)

	p.mu.Lock()
	// Abort may have already returned the pipeline to idle and a new
	// session may even be recording; only clear our own upload state.
	if p.state == StateUploading {
		p.state = StateIdle
	}
	p.mu.Unlock()

	if err != nil {
		slog.Warn("voice: upload failed", "character_id", p.characterID, "err", err)
		return nil, fmt.Errorf("voice: upload: %w", err)
	}
	return reply, nil
}

// Abort discards any active recording session and forces the pipeline idle.
// An in-flight upload is not interrupted (its context belongs to the
// caller), but its eventual completion will not disturb a newer session.
func (p *Pipeline) Abort() {
	p.mu.Lock()
	wasRecording := p.state == StateRecording
	p.state = StateIdle
	p.chunks = nil
	p.mu.Unlock()

	if wasRecording {
		if err := p.device.Close(); err != nil {
			slog.Warn("voice: releasing microphone failed", "err", err)
		}
	}
}

// assembleLocked flattens the buffered frames into one sample sequence.
// Caller must hold p.mu.
func (p *Pipeline) assembleLocked() []int16 {
	var total int
	for _, c := range p.chunks {
		total += len(c)
	}
	samples := make([]int16, 0, total)
	for _, c := range p.chunks {
		samples = append(samples, c...)
	}
	p.chunks = nil
	return samples
}
