package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultServerErrorDelay = 500 * time.Millisecond
	DefaultRateLimitDelay   = 500 * time.Millisecond
)

// ErrEmptyPayload marks a successful response that carried nothing usable.
var ErrEmptyPayload = errors.New("response carried no usable payload")

// Terminal is the final state of a logical request.
type Terminal int

const (
	TerminalSuccess Terminal = iota
	TerminalQuotaExhausted
	TerminalAllFailed
	TerminalFallback
)

func (t Terminal) String() string {
	switch t {
	case TerminalSuccess:
		return "success"
	case TerminalQuotaExhausted:
		return "quota_exhausted"
	case TerminalAllFailed:
		return "all_candidates_failed"
	case TerminalFallback:
		return "fallback_requested"
	default:
		return fmt.Sprintf("terminal(%d)", int(t))
	}
}

// Attempt records one upstream call. Empty is set when an OK response held
// no usable payload.
type Attempt struct {
	Candidate  Candidate
	Shape      Shape
	Outcome    OutcomeKind
	Status     int
	RetryAfter int
	Err        string
	Empty      bool
	Duration   time.Duration
}

// Result is the reduced outcome of one logical request.
type Result struct {
	Capability Capability
	Terminal   Terminal
	// Payload is text, or base64 image bytes for GenerateImage.
	Payload   string
	MIMEType  string
	Candidate Candidate
	// RetryAfter is the last rate-limit hint seen, in seconds.
	RetryAfter int
	// Tried lists distinct candidates in the order they were first attempted.
	Tried    []Candidate
	Attempts []Attempt
	LastErr  error
	// ProviderBody is the last upstream body seen, kept for diagnostics.
	ProviderBody []byte
	Duration     time.Duration
}

// Policy holds the fixed delays of the retry state machine.
type Policy struct {
	ServerErrorDelay time.Duration
	RateLimitDelay   time.Duration
}

// DefaultPolicy returns the production delays.
func DefaultPolicy() Policy {
	return Policy{
		ServerErrorDelay: DefaultServerErrorDelay,
		RateLimitDelay:   DefaultRateLimitDelay,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Controller sequences attempts for a logical request. It holds no
// per-request state, so one instance serves concurrent requests.
type Controller struct {
	resolver   *Resolver
	dispatcher Dispatcher
	fetcher    ImageFetcher
	policy     Policy
	sleep      Sleeper
	logger     *slog.Logger
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

func WithPolicy(p Policy) ControllerOption {
	return func(c *Controller) { c.policy = p }
}

func WithSleeper(s Sleeper) ControllerOption {
	return func(c *Controller) {
		if s != nil {
			c.sleep = s
		}
	}
}

func WithFetcher(f ImageFetcher) ControllerOption {
	return func(c *Controller) { c.fetcher = f }
}

func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewController(resolver *Resolver, dispatcher Dispatcher, opts ...ControllerOption) *Controller {
	c := &Controller{
		resolver:   resolver,
		dispatcher: dispatcher,
		fetcher:    NewHTTPFetcher(nil),
		policy:     DefaultPolicy(),
		sleep:      sleepContext,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type sweep struct {
	req  *Request
	desc descriptor
	res  *Result
	seen map[Candidate]bool
}

// Run drives req to exactly one terminal state. The only error returned is
// for a request the controller cannot handle at all.
func (c *Controller) Run(ctx context.Context, req *Request) (*Result, error) {
	desc, err := descriptorFor(req.Capability)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	s := &sweep{
		req:  req,
		desc: desc,
		res:  &Result{Capability: req.Capability},
		seen: make(map[Candidate]bool),
	}

	term, done := c.runList(ctx, s, c.resolver.Resolve(req.Capability, req.ModelHint))
	if !done && desc.discover && ctx.Err() == nil {
		extra := c.resolver.Discover(ctx, s.res.Tried)
		if len(extra) > 0 {
			c.logger.Info("static candidates exhausted, trying discovered models",
				"capability", req.Capability, "count", len(extra))
			term, done = c.runList(ctx, s, extra)
		}
	}
	if !done {
		term = TerminalAllFailed
	}
	if desc.fallback && term != TerminalSuccess {
		term = TerminalFallback
	}

	s.res.Terminal = term
	s.res.Duration = time.Since(start)

	c.logger.Info("request finished",
		"capability", req.Capability,
		"outcome", term,
		"candidate", s.res.Candidate,
		"tried", len(s.res.Tried),
		"attempts", len(s.res.Attempts),
		"duration", s.res.Duration,
	)
	return s.res, nil
}

// runList walks candidates in order. It reports true once a terminal state
// other than plain exhaustion has been reached.
func (c *Controller) runList(ctx context.Context, s *sweep, list []Candidate) (Terminal, bool) {
	for i, cand := range list {
		untriedRemain := i < len(list)-1

	shapes:
		for _, shape := range cand.Shapes(s.desc.shapes) {
			out, err := c.attemptWithRetry(ctx, s, cand, shape)
			if err != nil {
				s.res.LastErr = err
				return TerminalAllFailed, true
			}

			switch out.Kind {
			case OutcomeOK:
				if c.accept(ctx, s, cand, out) {
					return TerminalSuccess, true
				}
			case OutcomeRateLimited:
				s.res.RetryAfter = out.RetryAfter
				if !untriedRemain {
					return TerminalQuotaExhausted, true
				}
				if err := c.sleep(ctx, c.policy.RateLimitDelay); err != nil {
					s.res.LastErr = err
					return TerminalAllFailed, true
				}
				break shapes
			case OutcomeNotSupported, OutcomeServerError, OutcomeNetworkError, OutcomeClientError:
				break shapes
			}
		}
	}
	return TerminalAllFailed, false
}

// attemptWithRetry dispatches once and repeats exactly once on a server error.
func (c *Controller) attemptWithRetry(ctx context.Context, s *sweep, cand Candidate, shape Shape) (DispatchOutcome, error) {
	out, err := c.attempt(ctx, s, cand, shape)
	if err != nil || out.Kind != OutcomeServerError {
		return out, err
	}
	if err := c.sleep(ctx, c.policy.ServerErrorDelay); err != nil {
		return out, err
	}
	return c.attempt(ctx, s, cand, shape)
}

func (c *Controller) attempt(ctx context.Context, s *sweep, cand Candidate, shape Shape) (DispatchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return DispatchOutcome{}, err
	}

	if !s.seen[cand] {
		s.seen[cand] = true
		s.res.Tried = append(s.res.Tried, cand)
	}

	start := time.Now()
	out := c.dispatcher.Dispatch(ctx, Target{Request: s.req, Candidate: cand, Shape: shape})
	a := Attempt{
		Candidate:  cand,
		Shape:      shape,
		Outcome:    out.Kind,
		Status:     out.Status,
		RetryAfter: out.RetryAfter,
		Duration:   time.Since(start),
	}

	if len(out.Body) > 0 {
		s.res.ProviderBody = out.Body
	}
	if out.Kind != OutcomeOK {
		err := attemptError(cand, out)
		a.Err = err.Error()
		s.res.LastErr = err
	}
	s.res.Attempts = append(s.res.Attempts, a)

	c.logger.Debug("attempt",
		"capability", s.req.Capability,
		"candidate", cand,
		"shape", shape,
		"outcome", out.Kind,
		"status", out.Status,
	)
	return out, nil
}

// accept extracts the payload of an OK outcome. An empty or missing payload
// marks the attempt as failed.
func (c *Controller) accept(ctx context.Context, s *sweep, cand Candidate, out DispatchOutcome) bool {
	payload, mimeType, err := c.extract(ctx, s.desc, out.Body)
	if err != nil {
		last := &s.res.Attempts[len(s.res.Attempts)-1]
		last.Empty = true
		last.Err = err.Error()
		s.res.LastErr = fmt.Errorf("%s: %w", cand, err)
		return false
	}
	s.res.Payload = payload
	s.res.MIMEType = mimeType
	s.res.Candidate = cand
	return true
}

func (c *Controller) extract(ctx context.Context, desc descriptor, body []byte) (string, string, error) {
	if !desc.image {
		e := ExtractText(body)
		if !e.Found || strings.TrimSpace(e.Value) == "" {
			return "", "", ErrEmptyPayload
		}
		return e.Value, "text/plain", nil
	}

	e := ExtractImage(body)
	if !e.Found {
		return "", "", ErrEmptyPayload
	}
	if e.URL != "" {
		if c.fetcher == nil {
			return "", "", fmt.Errorf("%w: image url %s", ErrEmptyPayload, e.URL)
		}
		data, mimeType, err := c.fetcher.Fetch(ctx, e.URL)
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", ErrEmptyPayload, err)
		}
		return data, mimeType, nil
	}
	if e.Value == "" {
		return "", "", ErrEmptyPayload
	}
	return e.Value, e.MIMEType, nil
}

func attemptError(cand Candidate, out DispatchOutcome) error {
	if out.Err != nil {
		return fmt.Errorf("%s: %s: %w", cand, out.Kind, out.Err)
	}
	if out.Status != 0 {
		return fmt.Errorf("%s: %s (HTTP %d)", cand, out.Kind, out.Status)
	}
	return fmt.Errorf("%s: %s", cand, out.Kind)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
