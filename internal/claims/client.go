package claims

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/claimsight/document-processing-service/internal/domain"
)

// ClientConfig holds claims API client configuration.
type ClientConfig struct {
	// BaseURL is the claims system API root (e.g. "https://imis.example.org/api").
	BaseURL string
	// APIKey authenticates requests via the X-API-Key header.
	APIKey string
	// Timeout is the per-request timeout. Defaults to 30 seconds.
	Timeout time.Duration
	// RateLimit is the sustained requests per second. Defaults to 10.
	RateLimit float64
	// BurstSize is the rate limiter burst. Defaults to 10.
	BurstSize int
}

// Client is an HTTP Source implementation against the claims system's REST
// API. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
}

// NewClient creates a claims API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("claims API base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 10
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.BurstSize),
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}, nil
}

var _ Source = (*Client)(nil)

// GetClaim loads one claim by its external identifier.
func (c *Client) GetClaim(ctx context.Context, externalID string) (*Claim, error) {
	var claim Claim
	path := "/claims/" + url.PathEscape(externalID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &claim); err != nil {
		return nil, err
	}
	return &claim, nil
}

// FindDuplicateClaims returns other claim identifiers sharing the claim's
// insuree, facility, and service date.
func (c *Client) FindDuplicateClaims(ctx context.Context, claim *Claim) ([]string, error) {
	query := url.Values{}
	query.Set("chf_id", claim.Insuree.CHFID)
	query.Set("facility_code", claim.Facility.Code)
	query.Set("date_from", claim.DateFrom)
	query.Set("exclude", claim.ID)

	var payload struct {
		ClaimIDs []string `json:"claim_ids"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/claims/duplicates?"+query.Encode(), nil, &payload); err != nil {
		return nil, err
	}
	return payload.ClaimIDs, nil
}

// GetActivePolicy returns the insuree's policy valid on the given date.
func (c *Client) GetActivePolicy(ctx context.Context, chfID, onDate string) (*Policy, error) {
	query := url.Values{}
	query.Set("date", onDate)

	var policy Policy
	path := "/insurees/" + url.PathEscape(chfID) + "/policies/active?" + query.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// UpdateRegistryField writes one field on a registry record.
func (c *Client) UpdateRegistryField(ctx context.Context, targetModel, targetID, fieldName, value string) error {
	body := map[string]string{
		"field": fieldName,
		"value": value,
	}
	path := "/registry/" + url.PathEscape(targetModel) + "/" + url.PathEscape(targetID)
	return c.doJSON(ctx, http.MethodPatch, path, body, nil)
}

// doJSON performs one request against the claims API and decodes the JSON
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("claims API rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("claims API: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("claims API: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewTransientInfraError("claims API", "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return domain.NewTransientInfraError("claims API", "read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewNotFoundError("claims record", path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewRateLimitError("claims API", parseRetryAfter(resp))
	case resp.StatusCode >= 500:
		return domain.NewTransientInfraError("claims API",
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(respBody, 256)), nil)
	case resp.StatusCode >= 400:
		return domain.NewValidationError("claims API",
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(respBody, 256)))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("claims API: unmarshal response: %w", err)
		}
	}
	return nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := time.ParseDuration(header + "s")
	if err != nil {
		return 0
	}
	return seconds
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
