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

const defaultOpenAICompatibleBaseURL = "https://api.openai.com/v1"

// openAIChatRequest is the Chat Completions request body shared by every
// OpenAI-compatible vendor (OpenAI, DeepSeek, OpenRouter).
type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIChatMessage   `json:"messages"`
	Temperature    float64               `json:"temperature"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

// openAIChatMessage is one message. Content is either a plain string or a
// list of typed parts for vision requests.
type openAIChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIChoice struct {
	Index        int                 `json:"index"`
	Message      openAIPlainMessage  `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type openAIPlainMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIErrorResponse struct {
	Error openAIErrorDetail `json:"error"`
}

type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// OpenAICompatibleAdapter talks the OpenAI Chat Completions protocol with
// vision message parts. It backs the openai, deepseek, and openrouter
// adapter kinds; only the endpoint, credential, and model differ.
type OpenAICompatibleAdapter struct {
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

// NewOpenAICompatibleAdapter creates an adapter for any engine config whose
// backend speaks the OpenAI chat protocol.
func NewOpenAICompatibleAdapter(cfg domain.EngineConfig, opts AdapterOptions) Adapter {
	baseURL := strings.TrimSuffix(cfg.EndpointURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAICompatibleBaseURL
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &OpenAICompatibleAdapter{
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
func (a *OpenAICompatibleAdapter) Name() string {
	return a.name
}

// Classify matches the document against the candidate types.
func (a *OpenAICompatibleAdapter) Classify(ctx context.Context, req ClassifyRequest) (*ClassificationOutcome, error) {
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
func (a *OpenAICompatibleAdapter) Extract(ctx context.Context, req ExtractRequest) (*ExtractionOutcome, error) {
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
func (a *OpenAICompatibleAdapter) HealthCheck(ctx context.Context) error {
	chatReq := openAIChatRequest{
		Model: a.model,
		Messages: []openAIChatMessage{
			{Role: "user", Content: "ping"},
		},
		MaxTokens: healthCheckProbeTokens,
	}
	_, _, err := a.doRequest(ctx, "health_check", chatReq)
	return err
}

func (a *OpenAICompatibleAdapter) visionRequest(systemPrompt, userPrompt string, image []byte, mimeType string) openAIChatRequest {
	return openAIChatRequest{
		Model: a.model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []openAIContentPart{
				{Type: "text", Text: userPrompt},
				{Type: "image_url", ImageURL: &openAIImageURL{URL: imageDataURI(image, mimeType)}},
			}},
		},
		Temperature:    a.temperature,
		MaxTokens:      a.maxTokens,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}
}

// doRequest performs one Chat Completions call and returns the first
// choice's content plus token usage.
func (a *OpenAICompatibleAdapter) doRequest(ctx context.Context, operation string, chatReq openAIChatRequest) (string, openAIUsage, error) {
	if err := waitForLimiter(ctx, a.limiter, a.name); err != nil {
		return "", openAIUsage{}, err
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return "", openAIUsage{}, fmt.Errorf("%s: marshal request: %w", a.name, err)
	}

	endpoint := a.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", openAIUsage{}, fmt.Errorf("%s: create request: %w", a.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", openAIUsage{}, domain.NewEngineError(a.name, operation, 0, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", openAIUsage{}, domain.NewEngineError(a.name, operation, 0, "read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", openAIUsage{}, parseOpenAIError(a.name, operation, resp.StatusCode, respBody)
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", openAIUsage{}, domain.NewEngineError(a.name, operation, 0, "unmarshal response", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", openAIUsage{}, domain.NewEngineError(a.name, operation, 0, "empty choices in response", nil)
	}

	return chatResp.Choices[0].Message.Content, chatResp.Usage, nil
}

// parseOpenAIError maps a non-200 response onto the engine error taxonomy.
func parseOpenAIError(engineName, operation string, statusCode int, body []byte) error {
	message := string(body)
	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	if statusCode == http.StatusTooManyRequests {
		return domain.NewRateLimitError(engineName, 0)
	}
	return domain.NewEngineError(engineName, operation, statusCode, message, nil)
}

// classifyPayload is the JSON shape every adapter asks classification
// responses to follow.
type classifyPayload struct {
	DocumentTypeCode string  `json:"document_type_code"`
	Confidence       float64 `json:"confidence"`
	Language         string  `json:"language"`
	Reasoning        string  `json:"reasoning"`
}

// extractionPayload is the JSON shape every adapter asks extraction
// responses to follow.
type extractionPayload struct {
	Fields              map[string]extractionField `json:"fields"`
	AggregateConfidence float64                    `json:"aggregate_confidence"`
}

type extractionField struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// parseExtractionPayload normalizes the engine's extraction JSON. Array
// template fields keep their list shape; per-item confidence objects the
// engine may have nested inside list items are flattened to plain values.
func parseExtractionPayload(engineName, content string, template domain.ExtractionTemplate) (*ExtractionOutcome, error) {
	var parsed extractionPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, domain.NewEngineError(engineName, "extract", 0, fmt.Sprintf("malformed extraction JSON: %v", err), err)
	}
	if parsed.Fields == nil {
		return nil, domain.NewEngineError(engineName, "extract", 0, "response carries no fields object", nil)
	}

	arrayFields := make(map[string]bool)
	for _, name := range template.ArrayFields() {
		arrayFields[name] = true
	}

	fields := make(map[string]FieldValue, len(parsed.Fields))
	for name, fv := range parsed.Fields {
		value := fv.Value
		if arrayFields[name] {
			value = normalizeArrayValue(value)
		}
		fields[name] = FieldValue{Value: value, Confidence: clamp01(fv.Confidence)}
	}

	return &ExtractionOutcome{
		Fields:              fields,
		AggregateConfidence: clamp01(parsed.AggregateConfidence),
	}, nil
}

// normalizeArrayValue strips nested {value, confidence} wrappers the engine
// may have applied to individual array item attributes.
func normalizeArrayValue(value any) any {
	items, ok := value.([]any)
	if !ok {
		return value
	}
	normalized := make([]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			normalized = append(normalized, item)
			continue
		}
		flat := make(map[string]any, len(obj))
		for k, v := range obj {
			flat[k] = unwrapConfidenceObject(v)
		}
		normalized = append(normalized, flat)
	}
	return normalized
}

// unwrapConfidenceObject turns {"value": x, "confidence": c} into x; any
// other shape passes through untouched.
func unwrapConfidenceObject(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	inner, hasValue := obj["value"]
	if !hasValue {
		return v
	}
	if len(obj) == 1 {
		return inner
	}
	if _, hasConfidence := obj["confidence"]; hasConfidence && len(obj) == 2 {
		return inner
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
