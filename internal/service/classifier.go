package service

import (
	"strings"

	"github.com/outboundlab/conviction/internal/domain"
)

// Keyword lists for the deterministic fallback classifier. Intent keywords
// signal active buying motion; capability keywords signal readiness without
// intent. The fallback only runs when the reasoning service is unavailable
// or returns something unusable.
var (
	intentKeywords = []string{
		"rfp", "rfq", "tender", "procurement", "purchase order",
		"contract award", "awarded", "budget approved", "vendor selection",
		"issued a solicitation", "request for proposal",
	}
	capabilityKeywords = []string{
		"hiring", "job posting", "expanding", "expansion", "new office",
		"migration", "adopted", "rollout", "investment", "funding",
		"partnership", "appointed", "new cto", "new cio",
	}
	contraKeywords = []string{
		"cancelled", "canceled", "withdrew", "no longer", "hiring freeze",
		"budget cut", "postponed indefinitely", "shut down", "divested",
	}
)

// ruleClassify is the rule-based degradation path: strong supporting evidence
// needs at least two independent indicators for ACCEPT, one indicator reads
// as capability without intent (WEAK_ACCEPT), contradiction rejects, and
// anything else makes no progress.
func ruleClassify(item domain.EvidenceItem) domain.Decision {
	if item.Contradicts || containsAny(item.Statement, contraKeywords) {
		return domain.DecisionReject
	}

	indicators := countIndicators(item)
	switch {
	case indicators >= 2:
		return domain.DecisionAccept
	case indicators == 1:
		return domain.DecisionWeakAccept
	}
	return domain.DecisionNoProgress
}

// countIndicators counts independent signals: explicitly supplied indicators
// plus keyword families matched in the statement. Two hits from the same
// family count once.
func countIndicators(item domain.EvidenceItem) int {
	count := len(item.Indicators)
	if containsAny(item.Statement, intentKeywords) {
		count++
	}
	if containsAny(item.Statement, capabilityKeywords) {
		count++
	}
	return count
}

func containsAny(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
