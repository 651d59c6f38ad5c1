// Package transcript implements the ordered message log for one conversation.
//
// A [Store] is append-only with a single exception: while an assistant reply
// is streaming in, exactly one tail message is mutable and grows through
// [Store.AppendChunk]. Once [Store.EndStreaming] is called the message is
// frozen forever. All other messages are immutable from the moment they are
// appended.
//
// The Store owns its messages exclusively. [Store.Messages] returns copies so
// that callers can never observe a partial mutation. All methods are safe for
// concurrent use.
package transcript

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidState is returned when an operation is attempted while another
// message is still streaming (e.g., a second BeginStreamingReply).
var ErrInvalidState = errors.New("transcript: another message is still streaming")

// ErrNotFound is returned by [Store.AppendChunk] when the message ID is
// unknown or the message has already been frozen.
var ErrNotFound = errors.New("transcript: no streaming message with that id")

// Role identifies the author of a [Message].
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. ID is an opaque unique token;
// insertion order is the display order and is never re-sorted.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// AudioRef is an opaque handle to synthesized audio for this message,
	// resolvable by the engine's playback layer. Empty for text-only turns.
	AudioRef string `json:"audio_ref,omitempty"`
}

// Store is the ordered message log. The zero value is not usable; construct
// with [NewStore].
type Store struct {
	mu          sync.Mutex
	messages    []Message
	streamingID string
}

// NewStore creates a Store seeded with a single frozen assistant greeting.
func NewStore(greeting string) *Store {
	s := &Store{}
	s.Reset(greeting)
	return s
}

// Append adds a frozen message to the end of the log. It fails with
// [ErrInvalidState] while a streaming reply is open, since only chunk
// continuations may touch the log during a stream.
func (s *Store) Append(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streamingID != "" {
		return ErrInvalidState
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	s.messages = append(s.messages, msg)
	return nil
}

// BeginStreamingReply appends an empty assistant message in the mutable
// streaming state and returns its ID. At most one message may be streaming at
// a time; a second call before [Store.EndStreaming] fails with
// [ErrInvalidState].
func (s *Store) BeginStreamingReply() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streamingID != "" {
		return "", ErrInvalidState
	}
	id := uuid.NewString()
	s.messages = append(s.messages, Message{ID: id, Role: RoleAssistant})
	s.streamingID = id
	return id, nil
}

// AppendChunk concatenates text onto the streaming message identified by id.
// It fails with [ErrNotFound] if id is unknown or the message is frozen.
func (s *Store) AppendChunk(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" || s.streamingID != id {
		return ErrNotFound
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			s.messages[i].Content += text
			return nil
		}
	}
	return ErrNotFound
}

// EndStreaming freezes the streaming message. It is idempotent: ending an
// already-frozen or unknown ID is a no-op, not an error.
func (s *Store) EndStreaming(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" && s.streamingID == id {
		s.streamingID = ""
	}
}

// Reset clears the log and replaces it with a single frozen assistant
// greeting. Any open stream is abandoned along with its message.
func (s *Store) Reset(greeting string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = []Message{{
		ID:      uuid.NewString(),
		Role:    RoleAssistant,
		Content: greeting,
	}}
	s.streamingID = ""
}

// Messages returns a copy of the log in insertion order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Streaming reports whether a message is currently open for chunk appends.
func (s *Store) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamingID != ""
}

// Len returns the number of messages in the log.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
