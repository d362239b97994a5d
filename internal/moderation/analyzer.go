package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent"

// The prompt is optimized for a bare "yes"/"no" answer; anything else from
// the model is treated as a service error.
const promptTemplate = `Analyze the following message for a live stream chat. Respond with ONLY "yes" if the message is safe and appropriate, or "no" if it contains hate speech, harassment, toxicity, explicit sexual content, spam, or significant profanity. Message: %q`

const (
	// ReasonDisabled is the fail-open reason used only when no API key is
	// configured. Runtime errors never take this path.
	ReasonDisabled = "AI analysis disabled."

	// ReasonUnavailable is the fail-closed reason for any runtime error:
	// timeouts, bad status codes, unparseable or ambiguous responses.
	ReasonUnavailable = "Message could not be analyzed by AI."

	// ReasonFlagged is used when the model judges the message unsafe.
	ReasonFlagged = "Message flagged by AI as inappropriate."
)

// Decision is the moderation verdict for a single message.
type Decision struct {
	IsToxic bool   `json:"isToxic"`
	Reason  string `json:"reason,omitempty"`
}

// Analyzer classifies chat messages.
type Analyzer interface {
	Analyze(ctx context.Context, content string) Decision
}

// GeminiAnalyzer calls the Gemini API to moderate chat messages. It is
// stateless and safe for concurrent use.
//
// Policy: a missing API key disables analysis and allows everything through
// with an explicit reason. Once a key is configured, any failure to get an
// unambiguous verdict blocks the message. Safety wins over availability for
// runtime errors; only the deliberate "not configured" case fails open.
type GeminiAnalyzer struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewGeminiAnalyzer creates an analyzer with a bounded per-request timeout.
// An empty apiKey yields a disabled analyzer that allows all messages.
func NewGeminiAnalyzer(apiKey string, timeout time.Duration) *GeminiAnalyzer {
	return &GeminiAnalyzer{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// WithEndpoint overrides the API endpoint. Used by tests.
func (a *GeminiAnalyzer) WithEndpoint(endpoint string) *GeminiAnalyzer {
	a.endpoint = endpoint
	return a
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type generateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Analyze classifies content and never returns an error: failure modes are
// folded into the decision so callers have a single code path.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, content string) Decision {
	if a.apiKey == "" {
		slog.Warn("Gemini API key is missing, AI analysis is disabled, allowing message")
		return Decision{IsToxic: false, Reason: ReasonDisabled}
	}

	verdict, err := a.classify(ctx, content)
	if err != nil {
		slog.Error("Error analyzing message with Gemini", "error", err)
		return Decision{IsToxic: true, Reason: ReasonUnavailable}
	}

	if verdict == "no" {
		return Decision{IsToxic: true, Reason: ReasonFlagged}
	}
	return Decision{IsToxic: false}
}

// classify performs the API round trip and returns "yes" or "no"; every
// other outcome is an error.
func (a *GeminiAnalyzer) classify(ctx context.Context, content string) (string, error) {
	reqBody := generateRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: fmt.Sprintf(promptTemplate, content)}},
		}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"?key="+a.apiKey, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("gemini request failed with status %d: %s", resp.StatusCode, body)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}

	verdict := strings.ToLower(strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text))
	if verdict != "yes" && verdict != "no" {
		return "", fmt.Errorf("ambiguous verdict %q from gemini", verdict)
	}
	return verdict, nil
}
