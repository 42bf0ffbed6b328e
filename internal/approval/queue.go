// Package approval implements the multi-channel human-in-the-loop gate:
// a request is broadcast to notify channels, then response channels are
// polled until the first response arrives or the timeout elapses.
package approval

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Status of an approval request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Decision strings carried by responses. Adapters may return free-form
// decisions; these are the ones the engine acts on.
const (
	DecisionApprove   = "approve"
	DecisionReject    = "reject"
	DecisionTimeout   = "timeout"
	DecisionCancelled = "cancelled"
)

// DefaultTimeoutMinutes bounds a request when the caller passes none.
const DefaultTimeoutMinutes = 60

// DefaultPollInterval is how often response channels are polled.
const DefaultPollInterval = time.Second

// Request is one pending approval question.
type Request struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	Phase          string         `json:"phase"`
	Question       string         `json:"question"`
	Options        []string       `json:"options"`
	Context        map[string]any `json:"context,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	TimeoutMinutes int            `json:"timeout_minutes"`
	Status         Status         `json:"status"`
}

// Response resolves a request. Exactly one response is delivered to the
// requester per request, real or synthesized.
type Response struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
	Comment   string `json:"comment,omitempty"`
	Responder string `json:"responder,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// Adapter is one approval channel. SendNotification is best-effort;
// PollResponse returns (nil, nil) when no response has arrived yet.
type Adapter interface {
	Name() string
	SendNotification(ctx context.Context, req *Request) error
	PollResponse(ctx context.Context, req *Request) (*Response, error)
}

// Queue coordinates approval requests across channels.
type Queue struct {
	notify       []Adapter
	respond      []Adapter
	pollInterval time.Duration
	logger       *slog.Logger

	mu        sync.RWMutex
	requests  map[string]*Request
	responses map[string]*Response
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithNotifyChannels sets the adapters that receive notifications.
func WithNotifyChannels(adapters ...Adapter) QueueOption {
	return func(q *Queue) { q.notify = adapters }
}

// WithResponseChannels sets the adapters polled for responses.
func WithResponseChannels(adapters ...Adapter) QueueOption {
	return func(q *Queue) { q.respond = adapters }
}

// WithPollInterval overrides the 1 s poll cadence (used by tests).
func WithPollInterval(d time.Duration) QueueOption {
	return func(q *Queue) { q.pollInterval = d }
}

// WithQueueLogger sets the structured logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = logger }
}

// NewQueue builds a Queue with registered adapters.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
		requests:     make(map[string]*Request),
		responses:    make(map[string]*Response),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Request creates a pending approval request, broadcasts it, and blocks
// until the first response, timeout, or cancellation. A timeout of zero
// minutes still performs one poll pass before synthesizing a timeout.
func (q *Queue) Request(ctx context.Context, workflowID, phase, question string, options []string, reqContext map[string]any, timeoutMinutes int) (*Response, error) {
	if len(options) == 0 {
		options = []string{DecisionApprove, DecisionReject}
	}
	if timeoutMinutes < 0 {
		timeoutMinutes = DefaultTimeoutMinutes
	}
	req := &Request{
		ID:             "APR-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		WorkflowID:     workflowID,
		Phase:          phase,
		Question:       question,
		Options:        options,
		Context:        reqContext,
		CreatedAt:      time.Now().UTC(),
		TimeoutMinutes: timeoutMinutes,
		Status:         StatusPending,
	}

	q.mu.Lock()
	q.requests[req.ID] = req
	q.mu.Unlock()

	q.broadcast(ctx, req)

	deadline := req.CreatedAt.Add(time.Duration(timeoutMinutes) * time.Minute)
	for {
		if resp := q.takeResponse(ctx, req); resp != nil {
			q.setStatus(req.ID, statusForDecision(resp.Decision))
			return resp, nil
		}
		if time.Now().After(deadline) {
			resp := &Response{RequestID: req.ID, Decision: DecisionTimeout}
			q.record(resp)
			q.setStatus(req.ID, StatusTimeout)
			q.logger.Info("approval request timed out", "request_id", req.ID, "phase", phase)
			return resp, nil
		}
		select {
		case <-ctx.Done():
			resp := &Response{RequestID: req.ID, Decision: DecisionCancelled}
			q.record(resp)
			q.setStatus(req.ID, StatusCancelled)
			return resp, nil
		case <-time.After(q.pollInterval):
		}
	}
}

// broadcast fans the notification out to every notify channel concurrently.
// Delivery failures are logged and skipped; the request proceeds as long as
// the queue itself is healthy.
func (q *Queue) broadcast(ctx context.Context, req *Request) {
	if len(q.notify) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range q.notify {
		adapter := adapter
		g.Go(func() error {
			if err := adapter.SendNotification(gctx, req); err != nil {
				q.logger.Warn("approval notification failed",
					"channel", adapter.Name(),
					"request_id", req.ID,
					"error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// takeResponse checks the submitted-response map first, then polls each
// response channel in order. First writer wins.
func (q *Queue) takeResponse(ctx context.Context, req *Request) *Response {
	q.mu.RLock()
	resp := q.responses[req.ID]
	q.mu.RUnlock()
	if resp != nil {
		return resp
	}
	for _, adapter := range q.respond {
		r, err := adapter.PollResponse(ctx, req)
		if err != nil {
			q.logger.Warn("approval poll failed",
				"channel", adapter.Name(),
				"request_id", req.ID,
				"error", err)
			continue
		}
		if r != nil {
			r.RequestID = req.ID
			if r.Channel == "" {
				r.Channel = adapter.Name()
			}
			if q.record(r) {
				return r
			}
			// Another channel won the race; return the winner.
			q.mu.RLock()
			winner := q.responses[req.ID]
			q.mu.RUnlock()
			return winner
		}
	}
	return nil
}

// SubmitResponse records a response from an adapter or API caller. It is
// idempotent: only the first response for a request id takes effect, and
// the return value reports whether this call was the first.
func (q *Queue) SubmitResponse(resp *Response) bool {
	first := q.record(resp)
	if first {
		q.setStatus(resp.RequestID, statusForDecision(resp.Decision))
	}
	return first
}

// Cancel synthesizes a cancelled response; any polling caller observes it
// at its next poll.
func (q *Queue) Cancel(requestID string) {
	q.SubmitResponse(&Response{RequestID: requestID, Decision: DecisionCancelled})
}

// Get returns the request by id, or nil.
func (q *Queue) Get(requestID string) *Request {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.requests[requestID]
}

// Pending returns all requests still awaiting a response.
func (q *Queue) Pending() []*Request {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*Request
	for _, req := range q.requests {
		if req.Status == StatusPending {
			out = append(out, req)
		}
	}
	return out
}

func (q *Queue) record(resp *Response) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.responses[resp.RequestID]; exists {
		return false
	}
	q.responses[resp.RequestID] = resp
	return true
}

func (q *Queue) setStatus(requestID string, status Status) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if req, ok := q.requests[requestID]; ok {
		req.Status = status
	}
}

func statusForDecision(decision string) Status {
	switch decision {
	case DecisionApprove:
		return StatusApproved
	case DecisionTimeout:
		return StatusTimeout
	case DecisionCancelled:
		return StatusCancelled
	default:
		return StatusRejected
	}
}
