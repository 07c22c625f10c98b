package delivery

import (
	"math"
	"sort"
)

// ComputeMetrics aggregates deliveries. Rows that never got a response are
// left out of the response time figures; a response faster than a
// millisecond counts as 0. Percentiles index the sorted times at floor(n*p).
func ComputeMetrics(deliveries []Delivery) Metrics {
	m := Metrics{TotalDeliveries: len(deliveries)}
	if len(deliveries) == 0 {
		return m
	}

	var responseTimes []int64
	var totalResponseTime int64
	for _, d := range deliveries {
		if d.Success {
			m.SuccessfulDeliveries++
		}
		m.TotalRetries += d.RetryCount
		if hasResponse(d) {
			responseTimes = append(responseTimes, d.ResponseTimeMs)
			totalResponseTime += d.ResponseTimeMs
		}
	}
	m.FailedDeliveries = m.TotalDeliveries - m.SuccessfulDeliveries
	m.SuccessRate = round2(float64(m.SuccessfulDeliveries) / float64(m.TotalDeliveries) * 100)
	m.AverageRetries = round2(float64(m.TotalRetries) / float64(m.TotalDeliveries))

	if len(responseTimes) > 0 {
		sort.Slice(responseTimes, func(i, j int) bool { return responseTimes[i] < responseTimes[j] })
		m.AverageResponseTime = round2(float64(totalResponseTime) / float64(len(responseTimes)))
		m.P95ResponseTime = percentile(responseTimes, 0.95)
		m.P99ResponseTime = percentile(responseTimes, 0.99)
	}
	return m
}

// AnalyzeErrors groups failed deliveries by exact error message, most
// frequent first. Ties keep the most recent group first.
func AnalyzeErrors(deliveries []Delivery) []ErrorGroup {
	type group struct {
		ErrorGroup
		endpoints  map[string]struct{}
		eventTypes map[string]struct{}
	}

	groups := make(map[string]*group)
	var order []string
	for _, d := range deliveries {
		if d.Success {
			continue
		}
		msg := d.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}

		g, ok := groups[msg]
		if !ok {
			g = &group{
				ErrorGroup: ErrorGroup{Error: msg},
				endpoints:  make(map[string]struct{}),
				eventTypes: make(map[string]struct{}),
			}
			groups[msg] = g
			order = append(order, msg)
		}
		g.Count++
		if _, seen := g.endpoints[d.Endpoint]; !seen {
			g.endpoints[d.Endpoint] = struct{}{}
			g.Endpoints = append(g.Endpoints, d.Endpoint)
		}
		if _, seen := g.eventTypes[d.EventType]; !seen {
			g.eventTypes[d.EventType] = struct{}{}
			g.EventTypes = append(g.EventTypes, d.EventType)
		}
		if d.CreatedAt.After(g.LastOccurrence) {
			g.LastOccurrence = d.CreatedAt
		}
	}

	result := make([]ErrorGroup, 0, len(order))
	for _, msg := range order {
		g := groups[msg]
		sort.Strings(g.Endpoints)
		sort.Strings(g.EventTypes)
		result = append(result, g.ErrorGroup)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].LastOccurrence.After(result[j].LastOccurrence)
	})
	return result
}

// hasResponse reports whether the endpoint answered, so ResponseTimeMs is a
// measurement even when it is 0
func hasResponse(d Delivery) bool {
	return d.StatusCode != 0 || d.ResponseTimeMs > 0
}

func percentile(sorted []int64, p float64) int64 {
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
