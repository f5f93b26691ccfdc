package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestBand_Thresholds(t *testing.T) {
	tests := []struct {
		confidence float64
		want       ConfidenceBand
	}{
		{0.10, BandExploratory},
		{0.29, BandExploratory},
		{0.30, BandInformed},
		{0.59, BandInformed},
		{0.60, BandConfident},
		{0.80, BandConfident},
	}
	for _, tt := range tests {
		s := NewEntityConfidenceState(uuid.New(), uuid.New(), tt.confidence, 0.95)
		if got := s.Band(); got != tt.want {
			t.Errorf("Band(%.2f) = %s, want %s", tt.confidence, got, tt.want)
		}
	}
}

func TestBand_ActionableGate(t *testing.T) {
	s := NewEntityConfidenceState(uuid.New(), uuid.New(), 0.85, 0.95)

	// High confidence alone is not actionable.
	if got := s.Band(); got != BandConfident {
		t.Fatalf("ungated high confidence should report confident, got %s", got)
	}

	// Two accepts in one category still fails the spread requirement.
	s.Stats(CategoryProcurement).AcceptCount = 2
	if got := s.Band(); got != BandConfident {
		t.Fatalf("single-category accepts should report confident, got %s", got)
	}

	// Accepts across two categories open the gate.
	s.Stats(CategoryHiring).AcceptCount = 1
	if got := s.Band(); got != BandActionable {
		t.Fatalf("spread accepts above 0.80 should report actionable, got %s", got)
	}
}

func TestAcceptTotals(t *testing.T) {
	s := NewEntityConfidenceState(uuid.New(), uuid.New(), 0.5, 0.95)
	s.Stats(CategoryProcurement).AcceptCount = 2
	s.Stats(CategoryHiring).AcceptCount = 1
	s.Stats(CategoryTechStack).WeakAcceptCount = 3

	total, categories := s.AcceptTotals()
	if total != 3 {
		t.Fatalf("expected 3 total accepts, got %d", total)
	}
	if categories != 2 {
		t.Fatalf("expected 2 accepting categories, got %d", categories)
	}
}

func TestHypothesisFor_SkipsExhausted(t *testing.T) {
	s := NewEntityConfidenceState(uuid.New(), uuid.New(), 0.5, 0.95)
	s.ActiveHypotheses = append(s.ActiveHypotheses,
		&Hypothesis{ID: uuid.New(), Category: CategoryProcurement, Status: HypothesisExhausted},
		&Hypothesis{ID: uuid.New(), Category: CategoryProcurement, Status: HypothesisActive, Statement: "live"},
	)

	hyp := s.HypothesisFor(CategoryProcurement)
	if hyp == nil || hyp.Statement != "live" {
		t.Fatalf("expected the active hypothesis, got %+v", hyp)
	}
	if s.HypothesisFor(CategoryHiring) != nil {
		t.Fatal("category without hypothesis should return nil")
	}
}

func TestSaturationScore(t *testing.T) {
	cs := &CategoryStats{}
	if cs.SaturationScore() != 0 {
		t.Fatal("empty stats should score 0")
	}

	cs.TotalIterations = 10
	cs.AcceptCount = 4
	cs.RejectCount = 3
	cs.NoProgressCount = 3
	if got := cs.SaturationScore(); got != 0.6 {
		t.Fatalf("expected 0.6, got %.2f", got)
	}
}
