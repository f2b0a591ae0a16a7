package memory

import (
	"math"
	"sort"
)

// RetrievalConfig holds the fixed scoring constants. Weights are applied
// after each term is normalized to [0,1] over the candidate set, so no
// single factor dominates by scale alone.
type RetrievalConfig struct {
	RecencyWeight    float64 `json:"recency_weight"`
	ImportanceWeight float64 `json:"importance_weight"`
	RelevanceWeight  float64 `json:"relevance_weight"`
	// RecencyDecay is the per-tick exponential decay base: a record
	// last accessed n ticks ago scores RecencyDecay^n before
	// normalization.
	RecencyDecay float64 `json:"recency_decay"`
}

// DefaultRetrievalConfig returns the stock weights: relevance counts
// most, then importance, then recency.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		RecencyWeight:    0.5,
		ImportanceWeight: 2.0,
		RelevanceWeight:  3.0,
		RecencyDecay:     0.995,
	}
}

// Retriever ranks records by the composite recency/importance/relevance
// score. Retrieval is deterministic: identical store contents, query,
// tick and k always yield the identical ordered result, with ties broken
// toward the earlier-created record.
type Retriever struct {
	cfg RetrievalConfig
}

// NewRetriever creates a retriever with the given scoring constants.
func NewRetriever(cfg RetrievalConfig) *Retriever {
	if cfg.RecencyDecay <= 0 || cfg.RecencyDecay > 1 {
		cfg.RecencyDecay = DefaultRetrievalConfig().RecencyDecay
	}
	return &Retriever{cfg: cfg}
}

// Retrieve returns the top-k records scored against the query embedding
// at the given tick. Selected records get their last-access tick bumped
// to tick, which feeds back into future recency scores. An empty store
// yields an empty result, never an error.
func (rt *Retriever) Retrieve(s *Store, query []float32, tick int64, k int) []*Record {
	records := s.All()
	if len(records) == 0 || k <= 0 {
		return nil
	}

	recency := make([]float64, len(records))
	importance := make([]float64, len(records))
	relevance := make([]float64, len(records))
	for i, r := range records {
		age := tick - r.LastAccessTick
		if age < 0 {
			age = 0
		}
		recency[i] = math.Pow(rt.cfg.RecencyDecay, float64(age))
		importance[i] = r.Importance
		relevance[i] = Cosine(query, r.Embedding)
	}
	normalize(recency)
	normalize(importance)
	normalize(relevance)

	scores := make(map[int64]float64, len(records))
	for i, r := range records {
		scores[r.ID] = rt.cfg.RecencyWeight*recency[i] +
			rt.cfg.ImportanceWeight*importance[i] +
			rt.cfg.RelevanceWeight*relevance[i]
	}

	ranked := make([]*Record, len(records))
	copy(ranked, records)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i].ID], scores[ranked[j].ID]
		if si != sj {
			return si > sj
		}
		return ranked[i].ID < ranked[j].ID
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	top := ranked[:k]
	for _, r := range top {
		s.Touch(r.ID, tick)
	}
	return top
}

// normalize rescales values to [0,1] in place by min-max over the set.
// A constant set maps to the midpoint so the term neither helps nor
// hurts any candidate.
func normalize(vals []float64) {
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		for i := range vals {
			vals[i] = 0.5
		}
		return
	}
	for i := range vals {
		vals[i] = (vals[i] - lo) / span
	}
}

// Cosine computes cosine similarity between two vectors. Mismatched
// lengths or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
