// Package stream consumes a chunked text response and incrementally appends
// it to a single in-progress transcript message.
//
// The consumer never talks to the transcript or presence layers directly; it
// writes through a [Sink] supplied by the engine so that every mutation can
// be generation-checked and stale streams dropped without the consumer
// knowing about resets.
//
// Fragments are applied strictly in arrival order. The only buffering the
// consumer performs is decode buffering: a fragment boundary may split a
// multi-byte UTF-8 sequence, and the incomplete trailing bytes are held back
// until the next fragment completes them.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrDecode is returned when a malformed fragment boundary cannot be
// resolved by buffering. Callers treat it like a transport failure: the
// partial content is preserved and the fallback policy applies.
var ErrDecode = errors.New("stream: malformed text fragment")

// defaultReadSize is the per-read buffer size. Fragments larger than this
// are simply consumed across multiple reads; arrival order is preserved.
const defaultReadSize = 4096

// Sink is the write surface the consumer appends through. The engine
// implements it with generation checks so that chunks from a superseded
// exchange are rejected instead of applied.
//
// Begin and Append report rejection via error; End, MarkActive, and Complete
// are fire-and-forget because the sink decides internally whether they still
// apply.
type Sink interface {
	// Begin opens the streaming assistant reply and returns its message ID.
	Begin() (string, error)

	// Append concatenates decoded text onto the streaming message.
	Append(id, text string) error

	// End freezes the streaming message. Idempotent.
	End(id string)

	// MarkActive signals that the first output unit arrived.
	MarkActive()

	// Complete signals that the exchange is over, successful or not.
	Complete()
}

// Option is a functional option for configuring a [Consumer].
type Option func(*Consumer)

// WithReadSize sets the per-read buffer size. Values below 1 are ignored.
func WithReadSize(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// Consumer drains one chunked text response into one streaming reply.
// A Consumer is single-use: create one per exchange.
type Consumer struct {
	sink     Sink
	readSize int
}

// NewConsumer creates a Consumer writing through sink.
func NewConsumer(sink Sink, opts ...Option) *Consumer {
	c := &Consumer{sink: sink, readSize: defaultReadSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consume reads r to completion, appending decoded text in arrival order.
//
// On normal termination the streaming message is frozen and the sink is
// completed; Consume returns nil. On a read or decode error the partial
// content accumulated so far is frozen (never discarded), the sink is
// completed, and the error is returned so the caller can apply its fallback
// policy. Errors from the sink itself (a rejected Begin or Append, e.g. a
// stale generation) are returned as-is without touching End or Complete:
// the sink owner already knows the stream no longer applies.
func (c *Consumer) Consume(ctx context.Context, r io.Reader) error {
	id, err := c.sink.Begin()
	if err != nil {
		return err
	}

	var (
		pending []byte
		active  bool
		buf     = make([]byte, c.readSize)
	)

	for {
		if err := ctx.Err(); err != nil {
			return c.fail(id, err)
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			complete, tail := splitIncompleteRune(pending)
			if len(complete) > 0 {
				if !utf8.Valid(complete) {
					return c.fail(id, fmt.Errorf("%w: invalid byte sequence", ErrDecode))
				}
				if err := c.sink.Append(id, string(complete)); err != nil {
					return err
				}
				if !active {
					active = true
					c.sink.MarkActive()
				}
			}
			// Keep the held-back bytes in their own backing array so the
			// next read cannot clobber them through buf.
			pending = append([]byte(nil), tail...)
		}

		switch {
		case rerr == io.EOF:
			if len(pending) > 0 {
				return c.fail(id, fmt.Errorf("%w: truncated multi-byte sequence at end of stream", ErrDecode))
			}
			c.sink.End(id)
			c.sink.Complete()
			return nil
		case rerr != nil:
			return c.fail(id, fmt.Errorf("stream: read: %w", rerr))
		}
	}
}

// fail freezes whatever content was accumulated and completes the exchange,
// then returns err for the caller's fallback policy.
func (c *Consumer) fail(id string, err error) error {
	c.sink.End(id)
	c.sink.Complete()
	return err
}

// splitIncompleteRune splits b into the longest prefix ending on a rune
// boundary and a trailing incomplete multi-byte sequence to hold back.
// Byte sequences that can never become valid are returned whole in complete
// so the caller's validity check reports them instead of buffering forever.
func splitIncompleteRune(b []byte) (complete, tail []byte) {
	n := len(b)
	if n == 0 {
		return b, nil
	}

	// Walk back over continuation bytes to find the start of the last rune.
	i := n - 1
	for i >= 0 && n-i <= utf8.UTFMax {
		if b[i]&0xC0 != 0x80 {
			break
		}
		i--
	}
	if i < 0 || n-i > utf8.UTFMax {
		// Nothing but continuation bytes, or a run too long to be a single
		// rune: malformed, cannot be resolved by buffering.
		return b, nil
	}

	var need int
	switch c := b[i]; {
	case c < 0x80:
		need = 1
	case c&0xE0 == 0xC0:
		need = 2
	case c&0xF0 == 0xE0:
		need = 3
	case c&0xF8 == 0xF0:
		need = 4
	default:
		// Invalid start byte; surface it via the validity check.
		return b, nil
	}

	if n-i < need {
		return b[:i], b[i:]
	}
	return b, nil
}
