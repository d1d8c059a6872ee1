package cluster

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ScoringSuite is a test suite for the scoring primitives.
type ScoringSuite struct {
	suite.Suite
	now time.Time
}

func (s *ScoringSuite) SetupTest() {
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestScoringSuite(t *testing.T) {
	suite.Run(t, new(ScoringSuite))
}

func (s *ScoringSuite) TestCosineSimilarity() {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"scaled", []float32{2, 0, 0}, []float32{5, 0, 0}, 1},
		{"zero norm", []float32{0, 0, 0}, []float32{1, 0, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.InDelta(tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func (s *ScoringSuite) TestTimeDecayWeight() {
	lambda := 1.0 / 24.0

	s.Run("zero gap", func() {
		s.InDelta(1.0, TimeDecayWeight(s.now, s.now, lambda), 1e-9)
	})

	s.Run("one day", func() {
		w := TimeDecayWeight(s.now, s.now.Add(-24*time.Hour), lambda)
		s.InDelta(math.Exp(-1), w, 1e-9)
	})

	s.Run("future updated_at clamps via absolute gap", func() {
		past := TimeDecayWeight(s.now, s.now.Add(-6*time.Hour), lambda)
		future := TimeDecayWeight(s.now, s.now.Add(6*time.Hour), lambda)
		s.InDelta(past, future, 1e-9)
		s.LessOrEqual(future, 1.0)
	})
}

func (s *ScoringSuite) TestCompositeScore() {
	s.InDelta(1.0, CompositeScore(1, 1, 0.7, 0.3), 1e-9)
	s.InDelta(0.3, CompositeScore(0, 1, 0.7, 0.3), 1e-9)
	s.InDelta(0.7, CompositeScore(1, 0, 0.7, 0.3), 1e-9)
}

func (s *ScoringSuite) TestDynamicThreshold() {
	s.Run("fresh issue keeps base threshold", func() {
		s.InDelta(0.5, DynamicThreshold(1, 0.5), 1e-9)
	})

	s.Run("stale issue approaches one", func() {
		s.InDelta(1.0, DynamicThreshold(0, 0.5), 1e-9)
	})

	s.Run("monotone in staleness", func() {
		fresh := DynamicThreshold(0.9, 0.5)
		stale := DynamicThreshold(0.1, 0.5)
		s.Less(fresh, stale)
	})
}

func (s *ScoringSuite) TestSeparability() {
	tests := []struct {
		name         string
		best, second float64
		want         float64
	}{
		{"clear winner", 0.9, 0.5, (0.5 - 0.1) / 0.5},
		{"tied candidates", 0.8, 0.8, 0},
		{"two perfect matches", 1, 1, 0},
		{"runner-up closer", 0.5, 0.9, (0.1 - 0.5) / 0.5},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.InDelta(tt.want, Separability(tt.best, tt.second), 1e-9)
		})
	}
}

func (s *ScoringSuite) TestUpdateCentroid() {
	s.Run("moving average of two members", func() {
		got := UpdateCentroid([]float32{1, 0, 0}, 1, []float32{0, 1, 0})
		s.InDelta(0.5, float64(got[0]), 1e-6)
		s.InDelta(0.5, float64(got[1]), 1e-6)
		s.InDelta(0.0, float64(got[2]), 1e-6)
	})

	s.Run("weights existing members", func() {
		got := UpdateCentroid([]float32{1, 0}, 3, []float32{0, 1})
		s.InDelta(0.75, float64(got[0]), 1e-6)
		s.InDelta(0.25, float64(got[1]), 1e-6)
	})

	s.Run("result is not renormalized", func() {
		got := UpdateCentroid([]float32{1, 0}, 1, []float32{-1, 0})
		var norm float64
		for _, v := range got {
			norm += float64(v) * float64(v)
		}
		s.InDelta(0.0, norm, 1e-9)
	})
}

func (s *ScoringSuite) TestValidVector() {
	s.True(validVector([]float32{1, 2, 3}, 3))
	s.False(validVector([]float32{1, 2}, 3))
	s.False(validVector([]float32{1, float32(math.NaN()), 3}, 3))
	s.False(validVector([]float32{1, float32(math.Inf(1)), 3}, 3))
}
