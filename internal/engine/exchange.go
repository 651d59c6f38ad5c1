package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soulink-ai/soulink/internal/observe"
	"github.com/soulink-ai/soulink/internal/presence"
	"github.com/soulink-ai/soulink/internal/stream"
	"github.com/soulink-ai/soulink/internal/transcript"
	"github.com/soulink-ai/soulink/internal/voice"
	"github.com/soulink-ai/soulink/pkg/chatwire"
)

// ErrEmptyMessage is returned by [Engine.SendText] for blank input.
var ErrEmptyMessage = errors.New("engine: message is empty")

// SendText dispatches one user message and streams the character's reply
// into the transcript on a background goroutine.
//
// Blank input (after trimming) is an error. Sending while an exchange is
// already in flight is a silent no-op: the input is dropped without
// touching the transcript.
func (e *Engine) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if e.presence.State() != presence.StateIdle {
		e.mu.Unlock()
		slog.Debug("engine: exchange already in flight, dropping input")
		return nil
	}
	if err := e.store.Append(transcript.Message{Role: transcript.RoleUser, Content: text}); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := e.presence.BeginRequest(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.gen++
	gen := e.gen
	e.notifyLocked()
	e.mu.Unlock()

	go e.textExchange(gen, text)
	return nil
}

// textExchange runs one streamed reply exchange. Any transport or decode
// failure resolves to the fallback notice; stale results are dropped.
func (e *Engine) textExchange(gen uint64, text string) {
	start := time.Now()
	ctx, cancel := e.exchangeContext()
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "exchange.text")
	defer span.End()
	span.SetAttributes(observe.Attr("character_id", e.character.ID))

	body, err := e.exchanger.StreamMessage(ctx, e.character.ID, text)
	if err != nil {
		observe.Logger(ctx).Warn("engine: exchange dispatch failed", "character_id", e.character.ID, "err", err)
		span.RecordError(err)
		e.metrics.RecordExchange(context.Background(), "text", "error", time.Since(start).Seconds())
		e.resolveFailure(gen, "text")
		return
	}
	defer body.Close()

	err = stream.NewConsumer(&genTail{e: e, gen: gen}).Consume(ctx, body)
	switch {
	case errors.Is(err, errSuperseded):
		e.metrics.StaleDrops.Add(context.Background(), 1)
	case err != nil:
		observe.Logger(ctx).Warn("engine: reply stream failed", "character_id", e.character.ID, "err", err)
		span.RecordError(err)
		e.metrics.RecordExchange(context.Background(), "text", "error", time.Since(start).Seconds())
		e.resolveFailure(gen, "text")
	default:
		e.metrics.RecordExchange(context.Background(), "text", "ok", time.Since(start).Seconds())
	}
}

// StartVoice acquires the microphone and begins a capture session. Unlike
// remote failures, capture failures are returned to the caller: they are
// local, actionable, and do not belong in the transcript.
func (e *Engine) StartVoice() error {
	if e.pipeline == nil {
		return errors.New("engine: voice capture not configured")
	}

	err := e.pipeline.StartCapture()
	if errors.Is(err, voice.ErrPermissionDenied) {
		e.metrics.RecordVoiceCapture(context.Background(), "denied")
		return err
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.notifyLocked()
	e.mu.Unlock()
	return nil
}

// StopVoice ends the capture session and dispatches the voice exchange on a
// background goroutine. Calling it without an active session is a no-op.
// When a text exchange is already in flight the recording is discarded, the
// same silent-drop policy [Engine.SendText] applies to concurrent sends.
func (e *Engine) StopVoice() error {
	if e.pipeline == nil {
		return errors.New("engine: voice capture not configured")
	}

	e.mu.Lock()
	if e.pipeline.State() != voice.StateRecording {
		e.mu.Unlock()
		return nil
	}
	if e.presence.State() != presence.StateIdle {
		e.mu.Unlock()
		e.pipeline.Abort()
		slog.Debug("engine: exchange already in flight, discarding recording")
		return nil
	}
	if err := e.presence.BeginRequest(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.gen++
	gen := e.gen
	e.notifyLocked()
	e.mu.Unlock()

	go e.voiceExchange(gen)
	return nil
}

// voiceExchange uploads the captured audio and applies the reply.
func (e *Engine) voiceExchange(gen uint64) {
	start := time.Now()
	ctx, cancel := e.exchangeContext()
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "exchange.voice")
	defer span.End()
	span.SetAttributes(observe.Attr("character_id", e.character.ID))

	reply, err := e.pipeline.StopCapture(ctx)
	if err != nil {
		// Voice failures stay out of the transcript. The caller can
		// surface them from the snapshot feed if it wants to.
		observe.Logger(ctx).Warn("engine: voice exchange failed", "character_id", e.character.ID, "err", err)
		span.RecordError(err)
		e.metrics.RecordVoiceCapture(context.Background(), "error")
		e.metrics.RecordExchange(context.Background(), "voice", "error", time.Since(start).Seconds())
		e.metrics.RecordTransportFailure(context.Background(), "voice")

		e.mu.Lock()
		if gen == e.gen {
			e.presence.Complete()
			e.notifyLocked()
		} else {
			e.metrics.StaleDrops.Add(context.Background(), 1)
		}
		e.mu.Unlock()
		return
	}
	if reply == nil {
		// The session vanished underneath us (an Abort raced the stop).
		e.mu.Lock()
		if gen == e.gen {
			e.presence.Complete()
			e.notifyLocked()
		}
		e.mu.Unlock()
		return
	}

	e.metrics.RecordVoiceCapture(context.Background(), "ok")
	e.metrics.RecordExchange(context.Background(), "voice", "ok", time.Since(start).Seconds())
	e.applyVoiceReply(gen, reply)
}

// applyVoiceReply appends the frozen voice message and starts playback.
func (e *Engine) applyVoiceReply(gen uint64, reply *chatwire.VoiceReply) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		e.metrics.StaleDrops.Add(context.Background(), 1)
		return
	}

	label := reply.TranscriptLabel
	if label == "" {
		label = e.voiceLabel
	}
	ref := ""
	if len(reply.Audio) > 0 {
		ref = uuid.NewString()
		e.clips[ref] = reply.Audio
	}

	if err := e.presence.MarkActive(); err != nil {
		slog.Warn("engine: presence out of step for voice reply", "err", err)
	}
	if err := e.store.Append(transcript.Message{Role: transcript.RoleAssistant, Content: label, AudioRef: ref}); err != nil {
		slog.Warn("engine: appending voice reply failed", "err", err)
	}

	e.stopPlaybackLocked()
	var started bool
	if ref != "" && e.player != nil {
		pb, err := e.player.Play(reply.Audio)
		if err != nil {
			slog.Warn("engine: reply playback failed", "err", err)
		} else {
			e.playback = pb
			started = true
			go e.watchPlayback(pb, true)
		}
	}
	if !started {
		e.presence.Complete()
	}
	e.notifyLocked()
	e.mu.Unlock()
}

// resolveFailure appends the fallback notice and returns presence to idle,
// unless the exchange has been superseded in the meantime.
func (e *Engine) resolveFailure(gen uint64, kind string) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		e.metrics.StaleDrops.Add(context.Background(), 1)
		return
	}
	if err := e.store.Append(transcript.Message{Role: transcript.RoleAssistant, Content: e.fallbackNotice}); err != nil {
		slog.Warn("engine: appending fallback notice failed", "err", err)
	}
	e.presence.Complete()
	e.notifyLocked()
	e.mu.Unlock()

	e.metrics.RecordTransportFailure(context.Background(), kind)
}

// genTail adapts the transcript and presence machine into a [stream.Sink]
// whose writes only apply while its generation is still the live one.
type genTail struct {
	e   *Engine
	gen uint64
}

func (t *genTail) Begin() (string, error) {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	if t.gen != t.e.gen {
		return "", errSuperseded
	}
	id, err := t.e.store.BeginStreamingReply()
	if err != nil {
		return "", err
	}
	t.e.notifyLocked()
	return id, nil
}

func (t *genTail) Append(id, text string) error {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	if t.gen != t.e.gen {
		return errSuperseded
	}
	if err := t.e.store.AppendChunk(id, text); err != nil {
		return err
	}
	t.e.metrics.StreamChunks.Add(context.Background(), 1)
	t.e.notifyLocked()
	return nil
}

func (t *genTail) End(id string) {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	if t.gen != t.e.gen {
		return
	}
	t.e.store.EndStreaming(id)
	t.e.notifyLocked()
}

func (t *genTail) MarkActive() {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	if t.gen != t.e.gen {
		return
	}
	if err := t.e.presence.MarkActive(); err != nil {
		slog.Warn("engine: presence out of step for first chunk", "err", err)
	}
	t.e.notifyLocked()
}

func (t *genTail) Complete() {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	if t.gen != t.e.gen {
		return
	}
	t.e.presence.Complete()
	t.e.notifyLocked()
}
