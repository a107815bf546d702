package evaluation

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

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ent0n29/screener/internal/records"
	"github.com/ent0n29/screener/internal/reliability"
)

// GradeRequest is everything the grader sees about one interview.
type GradeRequest struct {
	JobTitle       string
	JobDescription string
	CandidateName  string
	Transcript     []records.TranscriptLine
}

// Grader scores a finished interview.
type Grader interface {
	Grade(ctx context.Context, apiKey string, req GradeRequest) (records.Evaluation, error)
}

// StatusError is a non-2xx answer from the grading endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("grading request failed: status %d: %s", e.Status, e.Body)
}

type InterviewEvaluation struct {
	Scores struct {
		Communication int `json:"communication" jsonschema:"minimum=0,maximum=100,description=Clarity and structure of the candidate's answers"`
		Reasoning     int `json:"reasoning" jsonschema:"minimum=0,maximum=100,description=Quality of problem solving and technical reasoning"`
		Relevance     int `json:"relevance" jsonschema:"minimum=0,maximum=100,description=How well answers match the role requirements"`
	} `json:"scores"`
	Feedback     string `json:"feedback" jsonschema:"description=Two or three sentences of constructive feedback"`
	OverallScore int    `json:"overallScore" jsonschema:"minimum=0,maximum=100"`
	IsPassing    bool   `json:"is_passing" jsonschema:"description=True when overallScore is at least 80"`
}

const gradingSystemPrompt = `You are an expert technical recruiter reviewing an interview transcript.
Score the candidate from 0 to 100 on communication, reasoning and relevance to the role.
Give an overallScore from 0 to 100 and set is_passing to true only when overallScore is at least 80.
Base every judgement on the transcript alone.`

type OpenAIGraderConfig struct {
	BaseURL     string
	Model       string
	HTTPClient  *http.Client
	MaxAttempts int
	BackoffBase time.Duration
}

// OpenAIGrader grades with chat completions constrained by a JSON schema.
type OpenAIGrader struct {
	baseURL     string
	model       string
	http        *http.Client
	maxAttempts int
	backoffBase time.Duration
	schema      *jsonschema.Schema
}

func NewOpenAIGrader(cfg OpenAIGraderConfig) *OpenAIGrader {
	g := &OpenAIGrader{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		http:        cfg.HTTPClient,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
	}
	if g.baseURL == "" {
		g.baseURL = "https://api.openai.com"
	}
	if g.http == nil {
		g.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = 3
	}
	if g.backoffBase <= 0 {
		g.backoffBase = 500 * time.Millisecond
	}
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	g.schema = reflector.Reflect(&InterviewEvaluation{})
	g.schema.Version = ""
	return g
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *schemaSpec `json:"json_schema,omitempty"`
}

type schemaSpec struct {
	Name   string             `json:"name"`
	Schema *jsonschema.Schema `json:"schema"`
	Strict bool               `json:"strict"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
	} `json:"choices"`
}

// FormatTranscript renders lines as "[SPEAKER]: text", one per line.
func FormatTranscript(lines []records.TranscriptLine) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s]: %s", strings.ToUpper(l.Speaker), l.Text)
	}
	return b.String()
}

func buildGradingPrompt(req GradeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job title: %s\n", fallback(req.JobTitle, "Unknown role"))
	if req.JobDescription != "" {
		fmt.Fprintf(&b, "Job description:\n%s\n", req.JobDescription)
	}
	if req.CandidateName != "" {
		fmt.Fprintf(&b, "Candidate: %s\n", req.CandidateName)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(FormatTranscript(req.Transcript))
	return b.String()
}

func (g *OpenAIGrader) Grade(ctx context.Context, apiKey string, req GradeRequest) (records.Evaluation, error) {
	ctx, span := tracer.Start(ctx, "grade interview")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", g.model), attribute.Int("transcript.lines", len(req.Transcript)))

	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: gradingSystemPrompt},
			{Role: "user", Content: buildGradingPrompt(req)},
		},
		ResponseFormat: &responseFormat{
			Type:       "json_schema",
			JSONSchema: &schemaSpec{Name: "InterviewEvaluation", Schema: g.schema, Strict: true},
		},
	})
	if err != nil {
		return records.Evaluation{}, fmt.Errorf("marshal grading request: %w", err)
	}

	var raw []byte
	for attempt := 0; ; attempt++ {
		raw, err = g.post(ctx, apiKey, body)
		if err == nil {
			break
		}
		span.RecordError(err)
		var se *StatusError
		if !errors.As(err, &se) || !reliability.IsRetryableHTTPStatus(se.Status) || attempt+1 >= g.maxAttempts {
			return records.Evaluation{}, err
		}
		wait := reliability.ExponentialBackoff(attempt, g.backoffBase, 8*g.backoffBase)
		log.Warn().Str("component", "evaluation").Int("status", se.Status).Dur("retry_in", wait).Msg("grading request retry")
		select {
		case <-ctx.Done():
			return records.Evaluation{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return records.Evaluation{}, fmt.Errorf("decode grading response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return records.Evaluation{}, fmt.Errorf("grading response has no choices")
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return records.Evaluation{}, fmt.Errorf("grading refused: %s", msg.Refusal)
	}

	var out InterviewEvaluation
	if err := json.Unmarshal([]byte(msg.Content), &out); err != nil {
		return records.Evaluation{}, fmt.Errorf("decode evaluation content: %w", err)
	}
	return records.Evaluation{
		Scores: records.Scores{
			Communication: out.Scores.Communication,
			Reasoning:     out.Scores.Reasoning,
			Relevance:     out.Scores.Relevance,
		},
		Feedback:     out.Feedback,
		OverallScore: out.OverallScore,
		IsPassing:    out.IsPassing,
		Model:        g.model,
	}, nil
}

func (g *OpenAIGrader) post(ctx context.Context, apiKey string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create grading request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send grading request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read grading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
