package warming

import (
	"sort"

	"github.com/awscache/awscache/pkg/types"
)

// Priority orders warming candidates. Higher values warm first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority maps a config string to a Priority. Unknown strings parse
// as low, the permissive end of the threshold.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Candidate is one key the analysis proposes warming, with the aggregates
// that justify it.
type Candidate struct {
	Key              string
	Frequency        int
	MissRate         float64
	Priority         Priority
	EstimatedBenefit float64
}

// Analyze aggregates usage events per key and returns warming candidates
// ranked by estimated benefit, best first. Keys requested fewer than
// minFrequency times are not candidates regardless of miss rate.
func Analyze(events []types.UsageEvent, minFrequency int) []Candidate {
	type agg struct {
		total  int
		misses int
	}
	byKey := make(map[string]*agg)
	for _, ev := range events {
		a, ok := byKey[ev.Key]
		if !ok {
			a = &agg{}
			byKey[ev.Key] = a
		}
		a.total++
		if !ev.WasHit {
			a.misses++
		}
	}

	var candidates []Candidate
	for key, a := range byKey {
		if a.total < minFrequency {
			continue
		}
		missRate := float64(a.misses) / float64(a.total)
		candidates = append(candidates, Candidate{
			Key:              key,
			Frequency:        a.total,
			MissRate:         missRate,
			Priority:         classify(missRate, a.total),
			EstimatedBenefit: missRate * float64(a.total),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].EstimatedBenefit != candidates[j].EstimatedBenefit {
			return candidates[i].EstimatedBenefit > candidates[j].EstimatedBenefit
		}
		return candidates[i].Key < candidates[j].Key
	})
	return candidates
}

// classify grades a candidate: frequent keys that mostly miss are the most
// valuable to warm.
func classify(missRate float64, frequency int) Priority {
	switch {
	case missRate > 0.6 && frequency > 5:
		return PriorityHigh
	case missRate > 0.4 && frequency > 3:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
