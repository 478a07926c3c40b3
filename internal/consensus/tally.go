package consensus

import (
	"sort"

	"mediaguard/internal/registry/models"
)

// ValidationThreshold is the consensus rate at or above which an event with
// at least one counted peer is validated.
const ValidationThreshold = 0.5

// Outcome is the result of tallying one event's judgments.
type Outcome struct {
	State models.EventState
	// Rate is valid judgments over all counted judgments, automated included.
	Rate float64
	// Score is the mean confidence of the judgments on the majority side.
	Score     float64
	Agreeing  int
	Counted   []PeerJudgment
	Discarded int
	// QuorumUnavailable is set when no verified peer judgment remained and
	// the automated-only rule decided the event.
	QuorumUnavailable bool
}

// Decide tallies the judgments. Peers failing verify are discarded before
// the vote; only the first judgment per validator counts. An event is
// validated iff the rate is at least 0.5 and at least one peer counted.
// Decide is pure.
func Decide(automated AutomatedJudgment, peers []PeerJudgment, verify JudgmentVerifier) Outcome {
	var out Outcome
	seen := make(map[string]bool, len(peers))
	for _, p := range peers {
		if seen[p.ValidatorID] {
			continue
		}
		if verify == nil || !verify(p) {
			out.Discarded++
			continue
		}
		seen[p.ValidatorID] = true
		out.Counted = append(out.Counted, p)
	}
	sort.SliceStable(out.Counted, func(i, j int) bool {
		return out.Counted[i].ValidatorID < out.Counted[j].ValidatorID
	})

	total := 1 + len(out.Counted)
	valid := 0
	if automated.IsValid {
		valid++
	}
	for _, p := range out.Counted {
		if p.IsValid {
			valid++
		}
	}
	out.Rate = float64(valid) / float64(total)
	majorityValid := out.Rate >= ValidationThreshold

	var sum float64
	if automated.IsValid == majorityValid {
		sum += clampUnit(automated.Confidence)
		out.Agreeing++
	}
	for _, p := range out.Counted {
		if p.IsValid == majorityValid {
			sum += p.Confidence
			out.Agreeing++
		}
	}
	if out.Agreeing > 0 {
		out.Score = sum / float64(out.Agreeing)
	}

	out.QuorumUnavailable = len(out.Counted) == 0
	if majorityValid && !out.QuorumUnavailable {
		out.State = models.EventValidated
	} else {
		out.State = models.EventDisputed
	}
	return out
}

func clampUnit(v float64) float64 {
	if !validConfidence(v) {
		return 0
	}
	return v
}
