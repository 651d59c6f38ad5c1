// Package export renders a captured conversation snapshot to a shareable
// artifact. The engine captures the snapshot under its lock and hands it to
// a [Renderer] outside the lock, so a slow disk never stalls a running
// exchange.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soulink-ai/soulink/internal/render"
	"github.com/soulink-ai/soulink/internal/transcript"
	"github.com/soulink-ai/soulink/pkg/chatwire"
)

// Transcript is a point-in-time copy of a conversation ready for rendering.
type Transcript struct {
	Character  chatwire.Character
	Messages   []transcript.Message
	CapturedAt time.Time
}

// Renderer persists a transcript snapshot and returns a reference to the
// produced artifact (a file path for [FileRenderer]).
type Renderer interface {
	Render(t Transcript) (string, error)
}

// FileRenderer writes snapshots as plain-text files into Dir.
type FileRenderer struct {
	// Dir is the target directory. It is created on first render if
	// missing. Empty means the current working directory.
	Dir string
}

// Render writes the transcript to a timestamped file and returns its path.
// Stage directions are rendered parenthesized so they read as actions
// rather than dialogue.
func (r *FileRenderer) Render(t Transcript) (string, error) {
	if r.Dir != "" {
		if err := os.MkdirAll(r.Dir, 0o755); err != nil {
			return "", fmt.Errorf("export: creating directory: %w", err)
		}
	}

	name := fmt.Sprintf("soulink-snippet-%d.txt", t.CapturedAt.UnixMilli())
	path := filepath.Join(r.Dir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation with %s\n", t.Character.Name)
	fmt.Fprintf(&b, "Captured %s\n\n", t.CapturedAt.Format(time.RFC1123))
	for _, msg := range t.Messages {
		fmt.Fprintf(&b, "%s: %s\n", speakerLabel(msg.Role, t.Character.Name), formatContent(msg.Content))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("export: writing snapshot: %w", err)
	}
	return path, nil
}

func speakerLabel(role transcript.Role, characterName string) string {
	if role == transcript.RoleUser {
		return "You"
	}
	if characterName != "" {
		return characterName
	}
	return "Character"
}

// formatContent flattens a reply into one line, with stage directions
// parenthesized.
func formatContent(content string) string {
	spans := render.Spans(content)
	if len(spans) == 0 {
		return content
	}
	var b strings.Builder
	for _, span := range spans {
		if span.Kind == render.SpanStage {
			b.WriteString("(" + strings.TrimSpace(span.Text) + ")")
			continue
		}
		b.WriteString(span.Text)
	}
	return b.String()
}
