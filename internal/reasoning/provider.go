package reasoning

import (
	"fmt"

	"github.com/outboundlab/conviction/internal/domain"
)

// Provider constants
const (
	ProviderHTTP = "http"
	ProviderMock = "mock"
	ProviderNone = "none"
)

// NewClient creates a reasoning client based on the provider name. "none"
// returns a nil client: the confidence engine then classifies with its
// deterministic rules alone.
func NewClient(provider, url string) (domain.ReasoningClient, error) {
	switch provider {
	case ProviderHTTP:
		if url == "" {
			return nil, fmt.Errorf("REASONING_URL is required for http provider")
		}
		return NewHTTPClient(url), nil

	case ProviderMock:
		return NewMockClient(), nil

	case ProviderNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown reasoning provider: %s (valid options: http, mock, none)", provider)
	}
}
