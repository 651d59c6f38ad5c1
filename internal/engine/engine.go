// Package engine orchestrates a conversation with a remote character: it
// owns the transcript, the presence machine, the voice pipeline, and reply
// playback, and serializes every state change behind one mutex.
//
// All remote work runs on background goroutines tagged with a generation
// number taken under the engine lock. [Engine.Reset] and each new exchange
// bump the generation, so results from a superseded exchange are discarded
// instead of applied. Remote failures never surface to callers as errors;
// they become a fallback notice in the transcript.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/soulink-ai/soulink/internal/export"
	"github.com/soulink-ai/soulink/internal/observe"
	"github.com/soulink-ai/soulink/internal/presence"
	"github.com/soulink-ai/soulink/internal/render"
	"github.com/soulink-ai/soulink/internal/transcript"
	"github.com/soulink-ai/soulink/internal/voice"
	"github.com/soulink-ai/soulink/pkg/audio"
	"github.com/soulink-ai/soulink/pkg/chatwire"
)

// Default conversation lines, used when the config carries no overrides.
const (
	DefaultGreeting       = "I've been waiting for you. The digital currents whispered of your arrival."
	DefaultResetGreeting  = "*Resetting neural link...* Connection restored."
	DefaultFallbackNotice = "*Connection lost. Retrying neural link...*"
)

// errSuperseded marks a result whose generation no longer matches the live
// conversation.
var errSuperseded = errors.New("engine: result superseded")

// subscriberBuffer is the per-subscriber snapshot channel capacity.
const subscriberBuffer = 8

// Exchanger streams character replies. Implemented by [chatwire.Client].
type Exchanger interface {
	StreamMessage(ctx context.Context, characterID, userMessage string) (io.ReadCloser, error)
}

// Config assembles an [Engine]. Exchanger is required; everything else is
// optional and degrades gracefully when absent.
type Config struct {
	Character chatwire.Character
	Exchanger Exchanger

	// Voice enables push-to-talk. Nil disables voice operations.
	Voice *voice.Pipeline

	// Player plays synthesized replies. Nil skips playback.
	Player audio.Player

	// Exporter persists conversation snapshots. Nil disables export.
	Exporter export.Renderer

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Greeting, ResetGreeting, FallbackNotice, and VoiceLabel override the
	// built-in conversation lines when non-empty.
	Greeting       string
	ResetGreeting  string
	FallbackNotice string
	VoiceLabel     string

	// ExchangeTimeout bounds one exchange from dispatch to completion.
	// Zero means unbounded.
	ExchangeTimeout time.Duration
}

// Snapshot is a self-contained view of the conversation, safe to hand to
// other goroutines.
type Snapshot struct {
	Character chatwire.Character   `json:"character"`
	Messages  []transcript.Message `json:"messages"`
	Presence  string               `json:"presence"`
	Voice     string               `json:"voice"`
	Mood      render.Mood          `json:"mood"`
}

// Engine is the conversation orchestrator. All exported methods are safe
// for concurrent use.
type Engine struct {
	character chatwire.Character
	exchanger Exchanger
	pipeline  *voice.Pipeline
	player    audio.Player
	exporter  export.Renderer
	metrics   *observe.Metrics

	resetGreeting  string
	fallbackNotice string
	voiceLabel     string
	timeout        time.Duration

	mu       sync.Mutex
	gen      uint64
	store    *transcript.Store
	presence *presence.Machine
	playback audio.Playback
	clips    map[string][]byte
	subs     map[chan Snapshot]struct{}
}

// New assembles an Engine seeded with the greeting.
func New(cfg Config) *Engine {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	resetGreeting := cfg.ResetGreeting
	if resetGreeting == "" {
		resetGreeting = DefaultResetGreeting
	}
	fallback := cfg.FallbackNotice
	if fallback == "" {
		fallback = DefaultFallbackNotice
	}
	voiceLabel := cfg.VoiceLabel
	if voiceLabel == "" {
		voiceLabel = chatwire.DefaultTranscriptLabel
	}

	e := &Engine{
		character:      cfg.Character,
		exchanger:      cfg.Exchanger,
		pipeline:       cfg.Voice,
		player:         cfg.Player,
		exporter:       cfg.Exporter,
		metrics:        metrics,
		resetGreeting:  resetGreeting,
		fallbackNotice: fallback,
		voiceLabel:     voiceLabel,
		timeout:        cfg.ExchangeTimeout,
		store:          transcript.NewStore(greeting),
		clips:          make(map[string][]byte),
		subs:           make(map[chan Snapshot]struct{}),
	}
	e.presence = presence.NewMachine(presence.WithListener(func(from, to presence.State) {
		metrics.RecordPresenceTransition(context.Background(), from.String(), to.String())
	}))
	return e
}

// Snapshot returns the current conversation state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers for snapshot updates after every state change. Slow
// subscribers miss intermediate snapshots rather than blocking the engine.
// The returned cancel function unregisters and closes the channel; it is
// safe to call more than once.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, ch)
			e.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Reset abandons the conversation: any in-flight exchange becomes stale,
// playback stops, the capture session is discarded, and the transcript
// restarts with the reset greeting.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.gen++
	e.store.Reset(e.resetGreeting)
	e.presence.Complete()
	e.stopPlaybackLocked()
	e.clips = make(map[string][]byte)
	e.notifyLocked()
	e.mu.Unlock()

	if e.pipeline != nil {
		e.pipeline.Abort()
	}
}

// Close releases the audio devices. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	e.gen++
	e.stopPlaybackLocked()
	e.mu.Unlock()

	if e.pipeline != nil {
		e.pipeline.Abort()
	}
}

// Replay plays the stored audio clip referenced by a transcript message.
// Presence is untouched; replay is a local action, not an exchange.
func (e *Engine) Replay(ref string) error {
	e.mu.Lock()
	data, ok := e.clips[ref]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: no audio clip for ref %q", ref)
	}
	if e.player == nil {
		e.mu.Unlock()
		return errors.New("engine: playback not configured")
	}
	e.stopPlaybackLocked()
	pb, err := e.player.Play(data)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: replay: %w", err)
	}
	e.playback = pb
	e.mu.Unlock()

	go e.watchPlayback(pb, false)
	return nil
}

// ExportSnapshot captures the transcript and renders it through the
// configured exporter, returning the artifact reference.
func (e *Engine) ExportSnapshot() (string, error) {
	if e.exporter == nil {
		return "", errors.New("engine: export not configured")
	}

	e.mu.Lock()
	t := export.Transcript{
		Character:  e.character,
		Messages:   e.store.Messages(),
		CapturedAt: time.Now(),
	}
	e.mu.Unlock()

	// Rendering may hit the disk; do it outside the lock.
	return e.exporter.Render(t)
}

// snapshotLocked builds a Snapshot. Caller must hold e.mu.
func (e *Engine) snapshotLocked() Snapshot {
	msgs := e.store.Messages()

	mood := render.MoodNeutral
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == transcript.RoleAssistant {
			mood = render.MoodOf(msgs[i].Content)
			break
		}
	}

	voiceState := voice.StateIdle.String()
	if e.pipeline != nil {
		voiceState = e.pipeline.State().String()
	}

	return Snapshot{
		Character: e.character,
		Messages:  msgs,
		Presence:  e.presence.State().String(),
		Voice:     voiceState,
		Mood:      mood,
	}
}

// notifyLocked fans the current snapshot out to subscribers. Caller must
// hold e.mu.
func (e *Engine) notifyLocked() {
	snap := e.snapshotLocked()
	for ch := range e.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// stopPlaybackLocked stops and clears the active playback, if any. Caller
// must hold e.mu.
func (e *Engine) stopPlaybackLocked() {
	if e.playback != nil {
		e.playback.Stop()
		e.playback = nil
	}
}

// watchPlayback waits for pb to finish and, when it is still the active
// playback, clears it. completeOnDone additionally returns presence to idle
// (used for the speaking phase of a voice exchange).
func (e *Engine) watchPlayback(pb audio.Playback, completeOnDone bool) {
	<-pb.Done()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playback != pb {
		return
	}
	e.playback = nil
	if completeOnDone {
		e.presence.Complete()
	}
	e.notifyLocked()
}

// exchangeContext derives the context for one remote exchange.
func (e *Engine) exchangeContext() (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(context.Background(), e.timeout)
	}
	return context.WithCancel(context.Background())
}
