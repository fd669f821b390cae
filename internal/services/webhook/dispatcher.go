package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/models"
	"github.com/ternarybob/acta/internal/services/status"
	"github.com/ternarybob/arbor"
)

const (
	userAgent     = "Acta-Webhook/1.0"
	testUserAgent = "Acta-Webhook-Test/1.0"

	headerWebhookID        = "X-Webhook-ID"
	headerWebhookTimestamp = "X-Webhook-Timestamp"
	headerWebhookAttempt   = "X-Webhook-Attempt"

	connectivityTimeout = 10 * time.Second
)

// Dispatcher delivers terminal-state notifications with bounded retry and a
// strict 2xx success discipline. Redirects are not followed; TLS certificates
// are always verified.
type Dispatcher struct {
	client      *http.Client
	statusMgr   *status.Manager
	maxRetries  int
	backoffBase time.Duration
	timeout     time.Duration
	logger      arbor.ILogger
}

// NewDispatcher creates a webhook dispatcher from configuration
func NewDispatcher(cfg *common.WebhookConfig, statusMgr *status.Manager, logger arbor.ILogger) *Dispatcher {
	timeout := common.Duration(cfg.RequestTimeout, 30*time.Second)
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Dispatcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// 3xx is a delivery failure, never a hop to follow
				return http.ErrUseLastResponse
			},
		},
		statusMgr:   statusMgr,
		maxRetries:  maxRetries,
		backoffBase: common.Duration(cfg.RetryBackoff, 2*time.Second),
		timeout:     timeout,
		logger:      logger,
	}
}

// Deliver POSTs the payload to the URL, retrying up to the configured attempt
// count with exponential backoff. The result records the outcome either way;
// delivery failure never becomes an error for the caller.
func (d *Dispatcher) Deliver(ctx context.Context, url string, payload *models.WebhookPayload) *models.DeliveryResult {
	result := &models.DeliveryResult{}

	if err := d.statusMgr.ValidateWebhookURL(url); err != nil {
		result.LastError = err.Error()
		result.Failure = models.WebhookFailureOther
		return result
	}

	body, err := json.Marshal(payload)
	if err != nil {
		result.LastError = fmt.Sprintf("failed to encode payload: %v", err)
		result.Failure = models.WebhookFailureOther
		return result
	}

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		// Backoff before attempt n (n >= 2): base * 2^(n-2)
		if attempt > 1 {
			wait := d.backoffBase * (1 << (attempt - 2))
			d.logger.Debug().
				Str("job_id", payload.JobID).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("Waiting before webhook retry")
			select {
			case <-ctx.Done():
				result.Attempts = attempt - 1
				result.LastError = ctx.Err().Error()
				result.Failure = models.WebhookFailureOther
				return result
			case <-time.After(wait):
			}
		}

		result.Attempts = attempt

		statusCode, err := d.post(ctx, url, body, payload.JobID, attempt)
		if err != nil {
			result.LastError = err.Error()
			result.Failure = classifyError(err)
			d.logger.Warn().
				Err(err).
				Str("job_id", payload.JobID).
				Str("category", string(result.Failure)).
				Int("attempt", attempt).
				Msg("Webhook attempt failed")
			continue
		}

		result.LastStatusCode = statusCode
		if statusCode >= 200 && statusCode < 300 {
			now := time.Now().UTC()
			result.Success = true
			result.SentAt = &now
			result.LastError = ""
			result.Failure = ""
			d.logger.Info().
				Str("job_id", payload.JobID).
				Int("status", statusCode).
				Int("attempt", attempt).
				Msg("Webhook delivered")
			return result
		}

		// Anything outside 2xx (including 3xx) is a failure
		result.LastError = fmt.Sprintf("HTTP %d", statusCode)
		result.Failure = models.WebhookFailureHTTPStatus
		d.logger.Warn().
			Str("job_id", payload.JobID).
			Int("status", statusCode).
			Int("attempt", attempt).
			Msg("Webhook returned non-2xx status")
	}

	d.logger.Error().
		Str("job_id", payload.JobID).
		Int("attempts", result.Attempts).
		Str("last_error", result.LastError).
		Msg("Webhook delivery exhausted retries")
	return result
}

// post performs one delivery attempt and returns the response status code
func (d *Dispatcher) post(ctx context.Context, url string, body []byte, jobID string, attempt int) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(headerWebhookID, jobID)
	req.Header.Set(headerWebhookTimestamp, time.Now().UTC().Format(time.RFC3339))
	req.Header.Set(headerWebhookAttempt, fmt.Sprintf("%d", attempt))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// TestConnectivity probes a webhook URL with a small test payload
func (d *Dispatcher) TestConnectivity(ctx context.Context, url string) *interfaces.ConnectivityResult {
	if err := d.statusMgr.ValidateWebhookURL(url); err != nil {
		return &interfaces.ConnectivityResult{
			Reachable: false,
			Error:     err.Error(),
		}
	}

	testPayload := map[string]interface{}{
		"test":      true,
		"message":   "Acta webhook connectivity test",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(testPayload)

	probeCtx, cancel := context.WithTimeout(ctx, connectivityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &interfaces.ConnectivityResult{Reachable: false, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", testUserAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return &interfaces.ConnectivityResult{Reachable: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	return &interfaces.ConnectivityResult{
		Reachable:      true,
		StatusCode:     resp.StatusCode,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
}

// classifyError maps transport errors to failure categories
func classifyError(err error) models.WebhookFailure {
	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return models.WebhookFailureTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.WebhookFailureTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.WebhookFailureTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.WebhookFailureConnect
	}

	return models.WebhookFailureOther
}
