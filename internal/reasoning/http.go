package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/outboundlab/conviction/internal/domain"
)

const defaultTimeout = 20 * time.Second

// HTTPClient calls an external reasoning service over HTTP. The service is an
// excluded collaborator: any transport failure, non-200 status or unparseable
// body surfaces as an error and the caller falls back to rule-based
// classification.
type HTTPClient struct {
	url        string
	httpClient *http.Client
}

func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type classifyRequest struct {
	Statement  string   `json:"statement"`
	Category   string   `json:"category"`
	Indicators []string `json:"indicators,omitempty"`
	Hypotheses []string `json:"hypotheses,omitempty"`
}

type classifyResponse struct {
	Decision     string   `json:"decision"`
	Confidence   float64  `json:"confidence"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
	Rationale    string   `json:"rationale,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func (c *HTTPClient) Classify(ctx context.Context, item domain.EvidenceItem, hypotheses []*domain.Hypothesis) (*domain.Verdict, error) {
	statements := make([]string, 0, len(hypotheses))
	for _, h := range hypotheses {
		if h.Status == domain.HypothesisActive {
			statements = append(statements, h.Statement)
		}
	}

	body, err := json.Marshal(classifyRequest{
		Statement:  item.Statement,
		Category:   string(item.Category),
		Indicators: item.Indicators,
		Hypotheses: statements,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reasoning service returned %d: %s", resp.StatusCode, respBody)
	}

	var parsed classifyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse classify response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("reasoning service error: %s", parsed.Error)
	}
	if !domain.ValidDecision(parsed.Decision) {
		return nil, fmt.Errorf("reasoning service returned unknown decision %q", parsed.Decision)
	}

	return &domain.Verdict{
		Decision:     domain.Decision(parsed.Decision),
		Confidence:   parsed.Confidence,
		EvidenceRefs: parsed.EvidenceRefs,
		Rationale:    parsed.Rationale,
	}, nil
}
