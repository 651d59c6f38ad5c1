package transcript

import (
	"errors"
	"testing"
)

func TestStore_Greeting(t *testing.T) {
	s := NewStore("hello, traveler")

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != RoleAssistant || msgs[0].Content != "hello, traveler" {
		t.Errorf("unexpected greeting message: %+v", msgs[0])
	}
	if msgs[0].ID == "" {
		t.Error("greeting message has no ID")
	}
}

func TestStore_StreamingLifecycle(t *testing.T) {
	s := NewStore("hi")

	id, err := s.BeginStreamingReply()
	if err != nil {
		t.Fatalf("BeginStreamingReply: %v", err)
	}
	if !s.Streaming() {
		t.Fatal("expected store to be streaming")
	}

	for _, chunk := range []string{"Hi ", "there", "!"} {
		if err := s.AppendChunk(id, chunk); err != nil {
			t.Fatalf("AppendChunk(%q): %v", chunk, err)
		}
	}

	s.EndStreaming(id)
	if s.Streaming() {
		t.Fatal("expected stream to be closed")
	}

	msgs := s.Messages()
	tail := msgs[len(msgs)-1]
	if tail.Content != "Hi there!" {
		t.Errorf("tail content = %q, want %q", tail.Content, "Hi there!")
	}
}

func TestStore_SingleMutableTail(t *testing.T) {
	s := NewStore("hi")

	if _, err := s.BeginStreamingReply(); err != nil {
		t.Fatalf("first BeginStreamingReply: %v", err)
	}

	// A second streaming reply is rejected while the first is open.
	if _, err := s.BeginStreamingReply(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second BeginStreamingReply err = %v, want ErrInvalidState", err)
	}

	// Plain appends are rejected too; only chunk continuations may touch
	// the log during a stream.
	err := s.Append(Message{Role: RoleUser, Content: "interleaved"})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Append during stream err = %v, want ErrInvalidState", err)
	}
}

func TestStore_AppendChunkAfterFreeze(t *testing.T) {
	s := NewStore("hi")

	id, err := s.BeginStreamingReply()
	if err != nil {
		t.Fatalf("BeginStreamingReply: %v", err)
	}
	if err := s.AppendChunk(id, "partial"); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	s.EndStreaming(id)

	if err := s.AppendChunk(id, " more"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendChunk after freeze err = %v, want ErrNotFound", err)
	}

	msgs := s.Messages()
	if got := msgs[len(msgs)-1].Content; got != "partial" {
		t.Errorf("frozen content mutated: %q", got)
	}
}

func TestStore_EndStreamingIdempotent(t *testing.T) {
	s := NewStore("hi")

	id, _ := s.BeginStreamingReply()
	if err := s.AppendChunk(id, "done"); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	s.EndStreaming(id)
	before := s.Messages()
	s.EndStreaming(id) // no-op
	after := s.Messages()

	if len(before) != len(after) || before[len(before)-1].Content != after[len(after)-1].Content {
		t.Errorf("double EndStreaming changed the log: %+v vs %+v", before, after)
	}
}

func TestStore_AppendChunkUnknownID(t *testing.T) {
	s := NewStore("hi")
	if err := s.AppendChunk("nope", "text"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Reset(t *testing.T) {
	s := NewStore("hi")

	if err := s.Append(Message{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	id, _ := s.BeginStreamingReply()
	_ = s.AppendChunk(id, "in flight")

	s.Reset("welcome back")

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after reset, got %d", len(msgs))
	}
	if msgs[0].Content != "welcome back" {
		t.Errorf("reset greeting = %q", msgs[0].Content)
	}
	if s.Streaming() {
		t.Error("reset left a stream open")
	}

	// The abandoned stream's ID must not resolve against the fresh log.
	if err := s.AppendChunk(id, "stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale AppendChunk err = %v, want ErrNotFound", err)
	}
}

func TestStore_UniqueIDs(t *testing.T) {
	s := NewStore("hi")
	seen := map[string]bool{}

	for range 20 {
		if err := s.Append(Message{Role: RoleUser, Content: "x"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	for _, m := range s.Messages() {
		if seen[m.ID] {
			t.Fatalf("duplicate message ID %q", m.ID)
		}
		seen[m.ID] = true
	}
}
