package cluster

import (
	"sort"
	"time"

	"github.com/thebtf/issuestream/internal/vector"
)

// ScoredCandidate is an index candidate annotated with the decision
// core's scoring terms.
type ScoredCandidate struct {
	vector.Candidate

	Similarity float64
	TimeWeight float64
	Score      float64
	Threshold  float64
}

// ScoreCandidates computes similarity, freshness, composite score and the
// per-candidate dynamic threshold for every shortlist entry, then orders
// the result deterministically: score descending, newer updated_at first,
// larger article_count first, smaller issue id last. Replaying the same
// stream therefore yields the same ranking even under exact score ties.
func ScoreCandidates(vec []float32, cands []vector.Candidate, now time.Time, p Params) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(cands))
	for _, c := range cands {
		sim := CosineSimilarity(vec, c.Centroid)
		w := TimeDecayWeight(now, c.UpdatedAt, p.Lambda)
		scored = append(scored, ScoredCandidate{
			Candidate:  c,
			Similarity: sim,
			TimeWeight: w,
			Score:      CompositeScore(sim, w, p.Alpha, p.Beta),
			Threshold:  DynamicThreshold(w, p.TBase),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if a.ArticleCount != b.ArticleCount {
			return a.ArticleCount > b.ArticleCount
		}
		return a.IssueID < b.IssueID
	})
	return scored
}

// Verdict is the pure outcome of scoring one article against its
// candidate shortlist.
type Verdict struct {
	Merge        bool
	Best         *ScoredCandidate
	Separability float64
	Candidates   []ScoredCandidate
}

// Decide applies the merge rule to a ranked shortlist: the best candidate
// wins iff its composite score clears its own dynamic threshold and the
// margin over the runner-up is strictly positive. An empty shortlist or a
// failed check means a new issue. With a single candidate the margin
// check passes vacuously.
func Decide(scored []ScoredCandidate) Verdict {
	if len(scored) == 0 {
		return Verdict{Separability: 1}
	}

	best := scored[0]
	sep := 1.0
	if len(scored) > 1 {
		sep = Separability(best.Similarity, scored[1].Similarity)
	}

	merge := best.Score >= best.Threshold && sep > 0
	return Verdict{
		Merge:        merge,
		Best:         &best,
		Separability: sep,
		Candidates:   scored,
	}
}
