package chatwire

import (
	"encoding/json"
	"strings"
)

// Character is a read-only catalog record. The engine holds a snapshot for
// the duration of a conversation and never mutates it.
type Character struct {
	// ID is an opaque identifier issued by the catalog service.
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ImageRef    string   `json:"image_ref"`
	Traits      []string `json:"traits"`
}

// UnmarshalJSON tolerates numeric ids: the catalog service historically
// issued integer record ids, while this client treats ids as opaque strings.
func (c *Character) UnmarshalJSON(data []byte) error {
	type plain Character
	aux := struct {
		ID json.RawMessage `json:"id"`
		*plain
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.ID = opaqueID(aux.ID)
	return nil
}

// NewCharacter is the character-creation payload.
type NewCharacter struct {
	Name            string   `json:"name"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Traits          []string `json:"traits"`
	SystemPrompt    string   `json:"systemPrompt"`
	FewShotExamples []string `json:"few_shot_examples"`
}

// opaqueID renders a raw JSON id value (number or string) as its string form.
func opaqueID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	return strings.Trim(s, `"`)
}
