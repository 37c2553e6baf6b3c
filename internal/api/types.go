package api

import "github.com/mattjoyce/warmpool/internal/events"

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Running       int    `json:"running"`
	Idle          int    `json:"idle"`
}

// EventsResponse is the GET /events body.
type EventsResponse struct {
	Events []events.Event `json:"events"`
}

// DispatchRequest is the POST /dispatch body.
type DispatchRequest struct {
	Payload []byte `json:"payload"`
	Queue   string `json:"queue,omitempty"`
}

// DispatchResponse is the POST /dispatch success body.
type DispatchResponse struct {
	WorkerID string `json:"worker_id"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
