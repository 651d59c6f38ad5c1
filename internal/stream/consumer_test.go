package stream

import (
	"context"
	"errors"
	"io"
	"testing"
)

// mockSink records every sink call for assertions.
type mockSink struct {
	beginErr  error
	appendErr error

	id        string
	content   string
	appends   []string
	activated int
	ended     int
	completed int
}

func (m *mockSink) Begin() (string, error) {
	if m.beginErr != nil {
		return "", m.beginErr
	}
	m.id = "msg-1"
	return m.id, nil
}

func (m *mockSink) Append(id, text string) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	if id != m.id {
		return errors.New("unknown id")
	}
	m.content += text
	m.appends = append(m.appends, text)
	return nil
}

func (m *mockSink) End(id string) { m.ended++ }
func (m *mockSink) MarkActive()   { m.activated++ }
func (m *mockSink) Complete()     { m.completed++ }

// chunkReader yields each fragment from exactly one Read call, then the
// terminal error. This models a chunked HTTP body where fragment boundaries
// are controlled by the server.
type chunkReader struct {
	chunks [][]byte
	err    error // terminal error; io.EOF for normal termination
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err == nil {
			return 0, io.EOF
		}
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func text(chunks ...string) *chunkReader {
	r := &chunkReader{}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r
}

func TestConsumer_HappyPath(t *testing.T) {
	sink := &mockSink{}
	c := NewConsumer(sink)

	err := c.Consume(context.Background(), text("Hi ", "there", "!"))
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if sink.content != "Hi there!" {
		t.Errorf("content = %q, want %q", sink.content, "Hi there!")
	}
	if sink.activated != 1 {
		t.Errorf("MarkActive called %d times, want 1", sink.activated)
	}
	if sink.ended != 1 || sink.completed != 1 {
		t.Errorf("ended=%d completed=%d, want 1/1", sink.ended, sink.completed)
	}
}

func TestConsumer_FragmentsAppliedInArrivalOrder(t *testing.T) {
	sink := &mockSink{}
	c := NewConsumer(sink)

	if err := c.Consume(context.Background(), text("a", "b", "c", "d")); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if sink.content != "abcd" {
		t.Errorf("content = %q, want abcd", sink.content)
	}
}

// Splitting a multi-byte character across fragments must yield the same
// final text as the unsplit bytes.
func TestConsumer_DecodeBuffering(t *testing.T) {
	const want = "héllo ☃ wörld"
	raw := []byte(want)

	tests := []struct {
		name   string
		reader *chunkReader
	}{
		{"unsplit", &chunkReader{chunks: [][]byte{raw}}},
		{"split inside é", &chunkReader{chunks: [][]byte{raw[:2], raw[2:]}}},
		{"split inside snowman", &chunkReader{chunks: [][]byte{raw[:7], raw[7:8], raw[8:]}}},
		{"byte at a time", singleBytes(raw)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &mockSink{}
			if err := NewConsumer(sink).Consume(context.Background(), tt.reader); err != nil {
				t.Fatalf("Consume: %v", err)
			}
			if sink.content != want {
				t.Errorf("content = %q, want %q", sink.content, want)
			}
		})
	}
}

func singleBytes(raw []byte) *chunkReader {
	r := &chunkReader{}
	for i := range raw {
		r.chunks = append(r.chunks, raw[i:i+1])
	}
	return r
}

func TestConsumer_MidStreamErrorPreservesPartial(t *testing.T) {
	sink := &mockSink{}
	c := NewConsumer(sink)

	boom := errors.New("connection reset")
	r := text("partial ")
	r.err = boom

	err := c.Consume(context.Background(), r)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if sink.content != "partial " {
		t.Errorf("partial content = %q, want preserved", sink.content)
	}
	if sink.ended != 1 || sink.completed != 1 {
		t.Errorf("ended=%d completed=%d, want 1/1 on failure", sink.ended, sink.completed)
	}
}

func TestConsumer_TruncatedTrailingSequence(t *testing.T) {
	sink := &mockSink{}
	c := NewConsumer(sink)

	// é is 0xC3 0xA9; the stream ends after the first byte.
	r := &chunkReader{chunks: [][]byte{[]byte("caf"), {0xC3}}}
	err := c.Consume(context.Background(), r)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if sink.content != "caf" {
		t.Errorf("content = %q, want the decodable prefix", sink.content)
	}
	if sink.ended != 1 || sink.completed != 1 {
		t.Errorf("ended=%d completed=%d, want 1/1", sink.ended, sink.completed)
	}
}

func TestConsumer_InvalidBytes(t *testing.T) {
	sink := &mockSink{}
	c := NewConsumer(sink)

	// 0xFF can never start a UTF-8 sequence.
	r := &chunkReader{chunks: [][]byte{{0xFF, 0xFE}, []byte("x")}}
	if err := c.Consume(context.Background(), r); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestConsumer_SinkRejectionSkipsCompletion(t *testing.T) {
	stale := errors.New("stale generation")
	sink := &mockSink{appendErr: stale}
	c := NewConsumer(sink)

	err := c.Consume(context.Background(), text("chunk"))
	if !errors.Is(err, stale) {
		t.Fatalf("err = %v, want %v", err, stale)
	}
	// A rejected sink write means the exchange no longer applies; the
	// consumer must not force End/Complete on someone else's state.
	if sink.ended != 0 || sink.completed != 0 {
		t.Errorf("ended=%d completed=%d, want 0/0 after sink rejection", sink.ended, sink.completed)
	}
}

func TestConsumer_BeginRejected(t *testing.T) {
	boom := errors.New("busy")
	sink := &mockSink{beginErr: boom}
	c := NewConsumer(sink)

	if err := c.Consume(context.Background(), text("x")); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if sink.activated != 0 || sink.ended != 0 || sink.completed != 0 {
		t.Errorf("sink touched after rejected Begin: %+v", sink)
	}
}

func TestConsumer_EmptyStream(t *testing.T) {
	sink := &mockSink{}
	c := NewConsumer(sink)

	if err := c.Consume(context.Background(), text()); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if sink.content != "" {
		t.Errorf("content = %q, want empty", sink.content)
	}
	if sink.activated != 0 {
		t.Errorf("MarkActive called with no output")
	}
	if sink.ended != 1 || sink.completed != 1 {
		t.Errorf("ended=%d completed=%d, want 1/1", sink.ended, sink.completed)
	}
}

func TestConsumer_ContextCancelled(t *testing.T) {
	sink := &mockSink{}
	c := NewConsumer(sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Consume(ctx, text("never read"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sink.ended != 1 || sink.completed != 1 {
		t.Errorf("cancelled stream must still freeze and complete: %+v", sink)
	}
}

func TestSplitIncompleteRune(t *testing.T) {
	tests := []struct {
		name         string
		in           []byte
		wantComplete string
		wantTail     string
	}{
		{"empty", nil, "", ""},
		{"ascii", []byte("abc"), "abc", ""},
		{"complete two byte", []byte("é"), "é", ""},
		{"half two byte", []byte{0xC3}, "", "\xC3"},
		{"ascii then half", []byte{'a', 0xC3}, "a", "\xC3"},
		{"two of three bytes", []byte{0xE2, 0x98}, "", "\xE2\x98"},
		{"three of four bytes", []byte{0xF0, 0x9F, 0x98}, "", "\xF0\x9F\x98"},
		{"invalid start byte passes through", []byte{0xFF}, "\xFF", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complete, tail := splitIncompleteRune(tt.in)
			if string(complete) != tt.wantComplete || string(tail) != tt.wantTail {
				t.Errorf("splitIncompleteRune(%q) = (%q, %q), want (%q, %q)",
					tt.in, complete, tail, tt.wantComplete, tt.wantTail)
			}
		})
	}
}
