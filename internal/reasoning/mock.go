package reasoning

import (
	"context"

	"github.com/outboundlab/conviction/internal/domain"
)

// MockClient is a configurable reasoning client for testing. Set the response
// fields to control what Classify returns.
type MockClient struct {
	ClassifyResponse *domain.Verdict
	ClassifyError    error

	// Call tracking for assertions
	ClassifyCalls []domain.EvidenceItem
}

func NewMockClient() *MockClient {
	return &MockClient{
		ClassifyResponse: &domain.Verdict{
			Decision:   domain.DecisionWeakAccept,
			Confidence: 0.5,
			Rationale:  "mock verdict",
		},
	}
}

func (c *MockClient) Classify(ctx context.Context, item domain.EvidenceItem, hypotheses []*domain.Hypothesis) (*domain.Verdict, error) {
	c.ClassifyCalls = append(c.ClassifyCalls, item)
	if c.ClassifyError != nil {
		return nil, c.ClassifyError
	}
	return c.ClassifyResponse, nil
}
