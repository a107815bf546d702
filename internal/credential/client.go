package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ent0n29/screener/internal/reliability"
)

// ErrInvalidKey is returned when the long-lived key is missing or malformed.
var ErrInvalidKey = errors.New("invalid API key")

// Error reports a failed credential exchange. Status is zero when the
// request never reached the provider.
type Error struct {
	Status    int
	Retryable bool
	Detail    string
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("credential exchange failed: status %d: %s", e.Status, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("credential exchange failed: %v", e.Err)
	default:
		return "credential exchange failed: " + e.Detail
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Credential is a short-lived token scoped to one realtime session.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

type Config struct {
	BaseURL            string
	Model              string
	Voice              string
	TranscriptionModel string
	HTTPClient         *http.Client
}

// Client exchanges the long-lived API key for an ephemeral realtime token.
type Client struct {
	baseURL            string
	model              string
	voice              string
	transcriptionModel string
	http               *http.Client
}

func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:            strings.TrimRight(cfg.BaseURL, "/"),
		model:              cfg.Model,
		voice:              cfg.Voice,
		transcriptionModel: cfg.TranscriptionModel,
		http:               cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.openai.com"
	}
	if c.voice == "" {
		c.voice = "alloy"
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return c
}

// ValidateKey checks the shape of a long-lived key after trimming leading
// whitespace.
func ValidateKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, "sk-") {
		return "", ErrInvalidKey
	}
	return key, nil
}

type sessionRequest struct {
	Model                   string                   `json:"model"`
	Voice                   string                   `json:"voice"`
	Instructions            string                   `json:"instructions"`
	TurnDetection           turnDetection            `json:"turn_detection"`
	InputAudioTranscription *inputAudioTranscription `json:"input_audio_transcription,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type inputAudioTranscription struct {
	Model string `json:"model"`
}

type sessionResponse struct {
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// RequestSessionCredential obtains an ephemeral token whose session is primed
// with systemPrompt. Every failure is an *Error.
func (c *Client) RequestSessionCredential(ctx context.Context, apiKey, systemPrompt string) (Credential, error) {
	ctx, span := tracer.Start(ctx, "request session credential")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	key, err := ValidateKey(apiKey)
	if err != nil {
		span.RecordError(err)
		return Credential{}, &Error{Detail: "API key must start with sk-", Err: err}
	}

	body := sessionRequest{
		Model:         c.model,
		Voice:         c.voice,
		Instructions:  systemPrompt,
		TurnDetection: turnDetection{Type: "server_vad"},
	}
	if c.transcriptionModel != "" {
		body.InputAudioTranscription = &inputAudioTranscription{Model: c.transcriptionModel}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Credential{}, &Error{Err: fmt.Errorf("marshal session request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/realtime/sessions", bytes.NewReader(payload))
	if err != nil {
		return Credential{}, &Error{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return Credential{}, &Error{Retryable: true, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, &Error{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{
			Status:    resp.StatusCode,
			Retryable: reliability.IsRetryableHTTPStatus(resp.StatusCode),
			Detail:    strings.TrimSpace(string(raw)),
		}
		span.RecordError(e)
		log.Warn().Str("component", "credential").Int("status", resp.StatusCode).Msg("session credential request rejected")
		return Credential{}, e
	}

	var out sessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Credential{}, &Error{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.ClientSecret == nil || strings.TrimSpace(out.ClientSecret.Value) == "" {
		return Credential{}, &Error{Status: resp.StatusCode, Detail: "response has no client_secret"}
	}

	cred := Credential{Value: out.ClientSecret.Value}
	if out.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(out.ClientSecret.ExpiresAt, 0).UTC()
	}
	return cred, nil
}
