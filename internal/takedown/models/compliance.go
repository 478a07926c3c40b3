package models

import (
	"fmt"
	"time"
)

// Evaluate derives the compliance of r at now. A request is settled once no
// platform is pending or the deadline has passed; escalation needs a settled
// request below the escalation percentage. A request with no platforms stays
// pending and never escalates.
func Evaluate(r *TakedownRequest, now time.Time) ComplianceResult {
	res := ComplianceResult{
		RequestID:            r.RequestID,
		PerPlatformResponses: make([]PlatformResponse, 0, len(r.Platforms)),
		OverallStatus:        OverallPending,
	}
	if len(r.Platforms) == 0 {
		res.Settled = !now.Before(r.ComplianceDeadline)
		return res
	}

	removed, pending := 0, 0
	for _, id := range r.Platforms {
		resp, ok := r.Responses[id]
		if !ok {
			resp = PlatformResponse{PlatformID: id, Status: ResponsePending}
		}
		res.PerPlatformResponses = append(res.PerPlatformResponses, resp)
		switch resp.Status {
		case ResponseRemoved:
			removed++
			at := resp.RecordedAt
			if resp.RemovalTime != nil {
				at = *resp.RemovalTime
			}
			res.ActionsTaken = append(res.ActionsTaken, ComplianceAction{
				Action:     "content_removed",
				PlatformID: id,
				Timestamp:  at,
				Details:    fmt.Sprintf("content removed from %s", id),
			})
		case ResponsePending:
			pending++
		}
	}

	res.CompliancePercentage = float64(removed) / float64(len(r.Platforms)) * 100
	res.Settled = pending == 0 || !now.Before(r.ComplianceDeadline)

	switch {
	case res.CompliancePercentage >= CompliantPercentage:
		res.OverallStatus = OverallCompliant
	case !res.Settled && res.CompliancePercentage > 0:
		res.OverallStatus = OverallPartial
	case !res.Settled:
		res.OverallStatus = OverallPending
	case res.CompliancePercentage >= EscalationPercentage:
		res.OverallStatus = OverallPartial
	default:
		res.OverallStatus = OverallNonCompliant
	}
	res.LegalEscalation = res.Settled && res.CompliancePercentage < EscalationPercentage
	return res
}

// MonitorDeadline reports the time left on r at now. It never changes r.
func MonitorDeadline(r *TakedownRequest, now time.Time) DeadlineStatus {
	remaining := r.ComplianceDeadline.Sub(now)
	return DeadlineStatus{
		RequestID:      r.RequestID,
		HoursRemaining: remaining.Hours(),
		Expired:        remaining <= 0,
		Urgent:         remaining < UrgentThreshold,
		Status:         r.Status,
	}
}
