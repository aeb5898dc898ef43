// Package health holds the liveness document served on GET /health and
// decoded by "dttape health".
package health

import "time"

// Liveness is the data block of a liveness response.
type Liveness struct {
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Response is the GET /health body.
type Response struct {
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
	Data      Liveness `json:"data"`
	Error     string   `json:"error,omitempty"`
}

// NewLiveness describes service started at startedAt, as seen at now.
func NewLiveness(service string, startedAt, now time.Time) Liveness {
	up := now.Sub(startedAt)
	return Liveness{
		Service:   service,
		StartedAt: startedAt.UTC().Format(time.RFC3339),
		Uptime:    up.Round(time.Second).String(),
		UptimeSec: int64(up.Seconds()),
	}
}

// Healthy reports whether r carries the healthy status.
func (r Response) Healthy() bool {
	return r.Status == "healthy"
}
