package webhooks

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/haxaco/payos-sub010/internal/apierr"
	"github.com/haxaco/payos-sub010/internal/domain"
	"github.com/haxaco/payos-sub010/internal/metrics"
)

const (
	maxDeliveryAttempts = 3
	deliveryTimeout     = 10 * time.Second
	queueDepth          = 1000
)

// deliveryEnvelope is the wire shape every subscriber receives: the event
// body wrapped with version, timestamps and delivery metadata, mirroring the
// API response envelope.
type deliveryEnvelope struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	APIVersion string                 `json:"api_version"`
	TenantID   string                 `json:"tenant_id"`
	CreatedAt  string                 `json:"created_at"`
	Data       map[string]interface{} `json:"data"`
	Delivery   deliveryMeta           `json:"delivery"`
}

type deliveryMeta struct {
	SubscriptionID string `json:"subscription_id"`
	Attempt        int    `json:"attempt"`
	MaxAttempts    int    `json:"max_attempts"`
}

// Dispatcher fans events out to subscribers from a bounded queue. Delivery
// failures are classified through the error taxonomy; only retryable codes
// are re-queued, and every outcome lands in the delivery metrics.
type Dispatcher struct {
	registry *Registry
	client   *http.Client
	queue    chan *delivery
	metrics  *metrics.Metrics
	logger   *log.Logger
	wg       sync.WaitGroup
	pending  sync.WaitGroup
	now      func() time.Time
	backoff  func(attempt int)
}

type delivery struct {
	sub     *WebhookSubscription
	event   *WebhookEvent
	attempt int
}

// NewDispatcher starts the worker pool. A nil metrics handle disables
// delivery instrumentation.
func NewDispatcher(registry *Registry, workers int, m *metrics.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		registry: registry,
		client:   &http.Client{Timeout: deliveryTimeout},
		queue:    make(chan *delivery, queueDepth),
		metrics:  m,
		logger:   log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		now:      time.Now,
		backoff: func(attempt int) {
			time.Sleep(time.Duration(attempt*attempt) * time.Second)
		},
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Emit queues one event for every subscriber of its type within the tenant.
func (d *Dispatcher) Emit(eventType EventType, tenantID string, data map[string]interface{}) {
	subs := d.registry.GetSubscribers(eventType)
	if len(subs) == 0 {
		return
	}

	event := &WebhookEvent{
		ID:        domain.NewID("evt"),
		Type:      eventType,
		Source:    "/v1",
		Timestamp: d.now().UTC(),
		TenantID:  tenantID,
		Data:      data,
	}
	for _, sub := range subs {
		if sub.TenantID != "" && sub.TenantID != tenantID {
			continue
		}
		d.enqueue(&delivery{sub: sub, event: event, attempt: 1})
	}
}

// enqueue never blocks: under backpressure the event is dropped and counted,
// not allowed to stall the emitting request.
func (d *Dispatcher) enqueue(job *delivery) {
	d.pending.Add(1)
	select {
	case d.queue <- job:
	default:
		d.logger.Printf("⚠️  queue full, dropping %s for %s", job.event.ID, job.sub.ID)
		d.record(job.event.Type, "dropped")
		d.pending.Done()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job *delivery) {
	// Re-queued attempts add to pending before this delivery settles, so the
	// drain in Shutdown covers retries too.
	defer d.pending.Done()

	payload, err := json.Marshal(deliveryEnvelope{
		ID:         job.event.ID,
		Type:       job.event.Type,
		APIVersion: "v1",
		TenantID:   job.event.TenantID,
		CreatedAt:  job.event.Timestamp.UTC().Format(time.RFC3339),
		Data:       job.event.Data,
		Delivery: deliveryMeta{
			SubscriptionID: job.sub.ID,
			Attempt:        job.attempt,
			MaxAttempts:    maxDeliveryAttempts,
		},
	})
	if err != nil {
		d.logger.Printf("❌ marshal %s: %v", job.event.ID, err)
		d.record(job.event.Type, "failed")
		return
	}

	if derr := d.post(job, payload); derr != nil {
		d.registry.MarkFailed(job.sub.ID)
		if apierr.Lookup(derr.Code).Retryable && job.attempt < maxDeliveryAttempts {
			d.logger.Printf("↩️  retrying %s → %s: %v", job.event.ID, job.sub.URL, derr)
			d.record(job.event.Type, "retried")
			d.backoff(job.attempt)
			job.attempt++
			d.enqueue(job)
			return
		}
		d.logger.Printf("❌ delivery failed %s → %s: %v", job.event.ID, job.sub.URL, derr)
		d.record(job.event.Type, "failed")
		return
	}

	d.logger.Printf("✅ delivered %s → %s (%s)", job.event.Type, job.sub.URL, job.event.ID)
	d.record(job.event.Type, "delivered")
}

// post performs one HTTP attempt and classifies any failure into the error
// taxonomy, which decides retryability.
func (d *Dispatcher) post(job *delivery, payload []byte) *apierr.Error {
	req, err := http.NewRequest(http.MethodPost, job.sub.URL, bytes.NewReader(payload))
	if err != nil {
		return apierr.New(apierr.CodeInvalidWebhookURL, "subscriber URL rejected").
			With("url", job.sub.URL)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PayOS-Event-Type", string(job.event.Type))
	req.Header.Set("X-PayOS-Event-ID", job.event.ID)
	req.Header.Set("X-PayOS-Delivery-Attempt", strconv.Itoa(job.attempt))
	if job.sub.Secret != "" {
		req.Header.Set("X-PayOS-Signature", "sha256="+SignPayload(payload, job.sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return apierr.New(apierr.CodeWebhookDeliveryFailed, "subscriber unreachable").
			With("url", job.sub.URL).
			With("cause", err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apierr.New(apierr.CodeRateLimited, "subscriber throttled the delivery").
			With("status", resp.StatusCode)
	case resp.StatusCode >= 500:
		return apierr.New(apierr.CodeWebhookDeliveryFailed, "subscriber errored").
			With("status", resp.StatusCode)
	case resp.StatusCode >= 400:
		// The subscriber rejected this payload; retrying cannot change that.
		return apierr.New(apierr.CodeValidationError, "subscriber rejected the event").
			With("status", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) record(event EventType, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordWebhookDelivery(string(event), outcome)
	}
}

// Shutdown waits for queued deliveries, retries included, then stops the
// workers. Emit must not be called after Shutdown.
func (d *Dispatcher) Shutdown() {
	d.pending.Wait()
	close(d.queue)
	d.wg.Wait()
}
