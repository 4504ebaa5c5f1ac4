// ticketsync - Resumable Helpdesk Ticket Synchronization
// Copyright 2026 Halodesk
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/halodesk/ticketsync

package helpdesk

// SLAMetricsRequest is the body of POST /api/v1/sla/metrics: a batch
// of ticket IDs to look up in one round trip.
type SLAMetricsRequest struct {
	TicketIds []string `json:"TicketIds"`
}

// SLAMetricsResponse maps each requested ticket ID to its metrics.
// Tickets with no SLA policy are absent from Metrics.
type SLAMetricsResponse struct {
	Metrics []SLAMetric `json:"Metrics"`
}

// SLA clock names used by the helpdesk.
const (
	SLAClockResponse   = "response"
	SLAClockResolution = "resolution"
)

// SLAMetric holds one ticket's SLA clocks. Threshold and actual values
// are minutes; an actual is null while the corresponding clock is still
// running.
type SLAMetric struct {
	TicketID string `json:"TicketId"`

	ResponseThresholdMins   *int `json:"ResponseThresholdMins"`
	ResponseActualMins      *int `json:"ResponseActualMins"`
	ResolutionThresholdMins *int `json:"ResolutionThresholdMins"`
	ResolutionActualMins    *int `json:"ResolutionActualMins"`

	// ClockRunning reports whether any SLA timer is still open.
	ClockRunning bool `json:"ClockRunning"`
}

// Breached reports whether the named clock exceeded its threshold.
// Unknown clocks and clocks without both values report false.
func (m *SLAMetric) Breached(clock string) bool {
	var threshold, actual *int
	switch clock {
	case SLAClockResponse:
		threshold, actual = m.ResponseThresholdMins, m.ResponseActualMins
	case SLAClockResolution:
		threshold, actual = m.ResolutionThresholdMins, m.ResolutionActualMins
	default:
		return false
	}
	if threshold == nil || actual == nil {
		return false
	}
	return *actual > *threshold
}
