package interfaces

import (
	"context"

	"github.com/ternarybob/acta/internal/models"
)

// ConnectivityResult reports the outcome of a webhook reachability probe
type ConnectivityResult struct {
	Reachable      bool   `json:"reachable"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
	Error          string `json:"error,omitempty"`
}

// WebhookDispatcher delivers terminal-state notifications to caller-supplied
// URLs. Deliver never returns an error; the result captures exhausted retries.
type WebhookDispatcher interface {
	Deliver(ctx context.Context, url string, payload *models.WebhookPayload) *models.DeliveryResult
	TestConnectivity(ctx context.Context, url string) *ConnectivityResult
}
