package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/claimsight/document-processing-service/internal/domain"
)

const defaultMistralBaseURL = "https://api.mistral.ai/v1"

// mistralChatRequest is the Mistral chat completions request body. The
// protocol is close to OpenAI's but image parts carry the URL directly as
// a string rather than a nested object.
type mistralChatRequest struct {
	Model          string                 `json:"model"`
	Messages       []mistralChatMessage   `json:"messages"`
	Temperature    float64                `json:"temperature"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	ResponseFormat *mistralResponseFormat `json:"response_format,omitempty"`
}

type mistralChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type mistralContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type mistralResponseFormat struct {
	Type string `json:"type"`
}

type mistralChatResponse struct {
	ID      string          `json:"id"`
	Choices []mistralChoice `json:"choices"`
	Usage   mistralUsage    `json:"usage"`
}

type mistralChoice struct {
	Index        int                 `json:"index"`
	Message      mistralPlainMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type mistralPlainMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mistralErrorResponse struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type mistralUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// MistralAdapter implements the adapter contract against the Mistral API
// (Pixtral vision models).
type MistralAdapter struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	prompts     PromptResolver
	name        string
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
}

// NewMistralAdapter creates an adapter for a mistral engine config.
func NewMistralAdapter(cfg domain.EngineConfig, opts AdapterOptions) Adapter {
	baseURL := strings.TrimSuffix(cfg.EndpointURL, "/")
	if baseURL == "" {
		baseURL = defaultMistralBaseURL
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &MistralAdapter{
		httpClient:  newAdapterHTTPClient(cfg, opts),
		limiter:     opts.Limiter,
		prompts:     resolvePrompts(opts),
		name:        cfg.Name,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.ModelID,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// Name returns the configured engine name.
func (a *MistralAdapter) Name() string {
	return a.name
}

// Classify matches the document against the candidate types.
func (a *MistralAdapter) Classify(ctx context.Context, req ClassifyRequest) (*ClassificationOutcome, error) {
	chatReq := a.visionRequest(
		a.prompts.ClassifyPrompt(),
		buildClassifyUserPrompt(req.Candidates),
		req.Image, req.MIMEType,
	)

	start := time.Now()
	content, usage, err := a.doRequest(ctx, "classify", chatReq)
	if err != nil {
		return nil, err
	}
	elapsed := int(time.Since(start).Milliseconds())

	var parsed classifyPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, domain.NewEngineError(a.name, "classify", 0, fmt.Sprintf("malformed classification JSON: %v", err), err)
	}
	if parsed.DocumentTypeCode == "" {
		return nil, domain.NewEngineError(a.name, "classify", 0, "response carries no document type code", nil)
	}

	return &ClassificationOutcome{
		DocumentTypeCode: parsed.DocumentTypeCode,
		Confidence:       clamp01(parsed.Confidence),
		Language:         strings.ToLower(strings.TrimSpace(parsed.Language)),
		Reasoning:        parsed.Reasoning,
		TokensUsed:       usage.TotalTokens,
		ProcessingTimeMs: elapsed,
	}, nil
}

// Extract fills the extraction template from the document.
func (a *MistralAdapter) Extract(ctx context.Context, req ExtractRequest) (*ExtractionOutcome, error) {
	chatReq := a.visionRequest(
		a.prompts.ExtractPrompt(req.DocumentTypeCode),
		buildExtractUserPrompt(req.Template),
		req.Image, req.MIMEType,
	)

	start := time.Now()
	content, usage, err := a.doRequest(ctx, "extract", chatReq)
	if err != nil {
		return nil, err
	}
	elapsed := int(time.Since(start).Milliseconds())

	outcome, err := parseExtractionPayload(a.name, content, req.Template)
	if err != nil {
		return nil, err
	}
	outcome.TokensUsed = usage.TotalTokens
	outcome.ProcessingTimeMs = elapsed
	return outcome, nil
}

// HealthCheck sends a minimal completion request.
func (a *MistralAdapter) HealthCheck(ctx context.Context) error {
	chatReq := mistralChatRequest{
		Model: a.model,
		Messages: []mistralChatMessage{
			{Role: "user", Content: "ping"},
		},
		MaxTokens: healthCheckProbeTokens,
	}
	_, _, err := a.doRequest(ctx, "health_check", chatReq)
	return err
}

func (a *MistralAdapter) visionRequest(systemPrompt, userPrompt string, image []byte, mimeType string) mistralChatRequest {
	return mistralChatRequest{
		Model: a.model,
		Messages: []mistralChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []mistralContentPart{
				{Type: "text", Text: userPrompt},
				{Type: "image_url", ImageURL: imageDataURI(image, mimeType)},
			}},
		},
		Temperature:    a.temperature,
		MaxTokens:      a.maxTokens,
		ResponseFormat: &mistralResponseFormat{Type: "json_object"},
	}
}

func (a *MistralAdapter) doRequest(ctx context.Context, operation string, chatReq mistralChatRequest) (string, mistralUsage, error) {
	if err := waitForLimiter(ctx, a.limiter, a.name); err != nil {
		return "", mistralUsage{}, err
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return "", mistralUsage{}, fmt.Errorf("%s: marshal request: %w", a.name, err)
	}

	endpoint := a.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", mistralUsage{}, fmt.Errorf("%s: create request: %w", a.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", mistralUsage{}, domain.NewEngineError(a.name, operation, 0, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", mistralUsage{}, domain.NewEngineError(a.name, operation, 0, "read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", mistralUsage{}, parseMistralError(a.name, operation, resp.StatusCode, respBody)
	}

	var chatResp mistralChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", mistralUsage{}, domain.NewEngineError(a.name, operation, 0, "unmarshal response", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", mistralUsage{}, domain.NewEngineError(a.name, operation, 0, "empty choices in response", nil)
	}

	return chatResp.Choices[0].Message.Content, chatResp.Usage, nil
}

func parseMistralError(engineName, operation string, statusCode int, body []byte) error {
	message := string(body)
	var errResp mistralErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		message = errResp.Message
	}
	if statusCode == http.StatusTooManyRequests {
		return domain.NewRateLimitError(engineName, 0)
	}
	return domain.NewEngineError(engineName, operation, statusCode, message, nil)
}
