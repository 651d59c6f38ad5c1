// Package chatwire is the HTTP client for the remote character-response
// service. It speaks the service's wire contracts and nothing more: the
// text exchange (a chunked plain-text stream), the voice exchange (multipart
// audio upload, audio body reply), and the character catalog.
//
// The package performs no conversation-state management; callers own the
// returned stream and decide how its contents are applied.
package chatwire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// ResponseTextHeader is the response header carrying the plain-text
// transcript label of a voice exchange reply.
const ResponseTextHeader = "X-Response-Text"

// DefaultTranscriptLabel is used when a voice reply omits
// [ResponseTextHeader].
const DefaultTranscriptLabel = "(voice reply)"

// maxErrorBody caps how much of a failed response body is captured for the
// error message.
const maxErrorBody = 512

// TransportError reports a failed exchange with the remote service: a
// network-level failure surfaces as the wrapped error, a non-2xx reply as a
// status code plus body excerpt.
type TransportError struct {
	// Op names the failed operation ("chat", "voice", "characters").
	Op string

	// StatusCode is the HTTP status, or 0 for network-level failures.
	StatusCode int

	// Body is a short excerpt of the error response body, if any.
	Body string

	// Err is the underlying error, if any.
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chatwire: %s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("chatwire: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("chatwire: %s: unexpected status %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }

// VoiceReply is the result of a successful voice exchange.
type VoiceReply struct {
	// Audio is the synthesized reply payload, ready for playback.
	Audio []byte

	// TranscriptLabel is the plain-text label of the spoken reply, taken
	// from [ResponseTextHeader] or [DefaultTranscriptLabel] when absent.
	TranscriptLabel string
}

// Option is a functional option for configuring the [Client].
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Useful for tests and for
// callers that need custom transports. The default is a plain &http.Client{}
// with no timeout, since text exchanges stream for an unbounded time;
// lifetime control belongs to the request context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Client talks to one service origin. It is safe for concurrent use.
type Client struct {
	origin     string
	httpClient *http.Client
}

// New creates a Client for the given base origin (e.g. "http://localhost:8000").
// origin must be a valid absolute URL.
func New(origin string, opts ...Option) (*Client, error) {
	origin = strings.TrimRight(origin, "/")
	if origin == "" {
		return nil, errors.New("chatwire: origin must not be empty")
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("chatwire: invalid origin %q", origin)
	}

	c := &Client{
		origin:     origin,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// StreamMessage dispatches a text exchange and returns the response body as
// a raw chunked text stream. The caller must close the returned reader.
// The stream carries no structured framing; decoded text is the message
// content, applied in arrival order.
func (c *Client) StreamMessage(ctx context.Context, characterID, userMessage string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/chat/%s?user_message=%s",
		c.origin, url.PathEscape(characterID), url.QueryEscape(userMessage))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: "chat", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "chat", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, &TransportError{Op: "chat", StatusCode: resp.StatusCode, Body: readExcerpt(resp.Body)}
	}
	return resp.Body, nil
}

// SendVoice uploads a captured audio payload as the multipart field
// "audio_file" and returns the synthesized reply audio plus its transcript
// label.
func (c *Client) SendVoice(ctx context.Context, characterID string, wavData []byte) (*VoiceReply, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio_file", "capture.wav")
	if err != nil {
		return nil, &TransportError{Op: "voice", Err: err}
	}
	if _, err := fw.Write(wavData); err != nil {
		return nil, &TransportError{Op: "voice", Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, &TransportError{Op: "voice", Err: err}
	}

	endpoint := fmt.Sprintf("%s/chat/voice/%s", c.origin, url.PathEscape(characterID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, &TransportError{Op: "voice", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "voice", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Op: "voice", StatusCode: resp.StatusCode, Body: readExcerpt(resp.Body)}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "voice", Err: err}
	}

	label := resp.Header.Get(ResponseTextHeader)
	if label == "" {
		label = DefaultTranscriptLabel
	}
	return &VoiceReply{Audio: audio, TranscriptLabel: label}, nil
}

// Characters fetches the character catalog.
func (c *Client) Characters(ctx context.Context) ([]Character, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.origin+"/characters/", nil)
	if err != nil {
		return nil, &TransportError{Op: "characters", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "characters", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Op: "characters", StatusCode: resp.StatusCode, Body: readExcerpt(resp.Body)}
	}

	var out []Character
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Op: "characters", Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}

// CreateCharacter registers a new character with the catalog and returns the
// stored record.
func (c *Client) CreateCharacter(ctx context.Context, nc NewCharacter) (*Character, error) {
	payload, err := json.Marshal(nc)
	if err != nil {
		return nil, &TransportError{Op: "characters", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.origin+"/characters/", bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Op: "characters", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "characters", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Op: "characters", StatusCode: resp.StatusCode, Body: readExcerpt(resp.Body)}
	}

	var out Character
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{Op: "characters", Err: fmt.Errorf("decode: %w", err)}
	}
	return &out, nil
}

func readExcerpt(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
