package match

// DefaultThreshold is the empirical similarity floor below which a
// candidate is not considered a match.
const DefaultThreshold = 0.7

// Record is one resolvable target: an id plus every name it answers to
// (canonical name first, then aliases, or a planned event's title).
type Record struct {
	ID    string
	Names []string
}

// Match is a successful resolution.
type Match struct {
	ID    string
	Name  string
	Score float64
	Exact bool
}

// Resolver maps freely worded references onto known records by normalized
// similarity. The zero value is not usable; construct with NewResolver.
type Resolver struct {
	threshold float64
}

// NewResolver returns a resolver accepting candidates scoring at or above
// threshold. A non-positive threshold falls back to DefaultThreshold.
func NewResolver(threshold float64) Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Resolver{threshold: threshold}
}

// Threshold returns the acceptance floor in use.
func (r Resolver) Threshold() float64 { return r.threshold }

// Resolve scores query against every name of every record and returns the
// best acceptable match. Exact normalized equality short-circuits to that
// record immediately; otherwise the highest score at or above the threshold
// wins. ok is false when nothing is close enough.
func (r Resolver) Resolve(query string, records []Record) (Match, bool) {
	nq := Normalize(query)
	if nq == "" {
		return Match{}, false
	}

	best := Match{Score: -1}
	for _, rec := range records {
		for _, name := range rec.Names {
			if Normalize(name) == nq {
				return Match{ID: rec.ID, Name: name, Score: 1, Exact: true}, true
			}
			if score := Similarity(query, name); score > best.Score {
				best = Match{ID: rec.ID, Name: name, Score: score}
			}
		}
	}

	if best.Score >= r.threshold {
		return best, true
	}
	return Match{}, false
}
