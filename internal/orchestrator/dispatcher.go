package orchestrator

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kalambet/santaline/internal/gemini"
)

// DefaultRetryAfter is used when a rate-limited response carries no hint.
const DefaultRetryAfter = 60

// OutcomeKind classifies one upstream attempt.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeNotSupported
	OutcomeRateLimited
	OutcomeServerError
	OutcomeNetworkError
	OutcomeClientError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeNotSupported:
		return "not_supported"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeServerError:
		return "server_error"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeClientError:
		return "client_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// DispatchOutcome is the classified result of a single attempt. Body is set
// for OK and ClientError, RetryAfter for RateLimited, Err for NetworkError.
type DispatchOutcome struct {
	Kind       OutcomeKind
	Status     int
	Body       []byte
	RetryAfter int
	Err        error
}

// Target is one (candidate, shape) pair for a request.
type Target struct {
	Request   *Request
	Candidate Candidate
	Shape     Shape
}

// Dispatcher performs one attempt and classifies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Target) DispatchOutcome
}

// Invoker is the upstream call the HTTP dispatcher needs.
type Invoker interface {
	Invoke(ctx context.Context, model, method string, payload any) (*gemini.Response, error)
}

// HTTPDispatcher dispatches attempts to the Generative Language API.
type HTTPDispatcher struct {
	upstream          Invoker
	defaultRetryAfter int
}

// NewHTTPDispatcher creates a dispatcher. A non-positive defaultRetryAfter
// selects DefaultRetryAfter.
func NewHTTPDispatcher(upstream Invoker, defaultRetryAfter int) *HTTPDispatcher {
	if defaultRetryAfter <= 0 {
		defaultRetryAfter = DefaultRetryAfter
	}
	return &HTTPDispatcher{upstream: upstream, defaultRetryAfter: defaultRetryAfter}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, t Target) DispatchOutcome {
	desc, err := descriptorFor(t.Request.Capability)
	if err != nil {
		return DispatchOutcome{Kind: OutcomeClientError, Err: err}
	}

	payload := desc.build(t.Request, t.Shape)
	resp, err := d.upstream.Invoke(ctx, t.Candidate.Model(), string(t.Shape), payload)
	if err != nil {
		return DispatchOutcome{Kind: OutcomeNetworkError, Err: err}
	}
	return Classify(resp, d.defaultRetryAfter)
}

// Classify maps a raw upstream response to an outcome.
func Classify(resp *gemini.Response, defaultRetryAfter int) DispatchOutcome {
	status := resp.StatusCode
	switch {
	case status == http.StatusTooManyRequests || isResourceExhausted(resp.Body):
		return DispatchOutcome{
			Kind:       OutcomeRateLimited,
			Status:     status,
			Body:       resp.Body,
			RetryAfter: RetryAfterSeconds(resp.Body, resp.Header, defaultRetryAfter),
		}
	case status >= 200 && status < 300:
		return DispatchOutcome{Kind: OutcomeOK, Status: status, Body: resp.Body}
	case status == http.StatusNotFound:
		return DispatchOutcome{Kind: OutcomeNotSupported, Status: status, Body: resp.Body}
	case status >= 500:
		return DispatchOutcome{Kind: OutcomeServerError, Status: status, Body: resp.Body}
	default:
		return DispatchOutcome{Kind: OutcomeClientError, Status: status, Body: resp.Body}
	}
}

func isResourceExhausted(body []byte) bool {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return false
	}
	return gjson.GetBytes(body, "error.status").String() == "RESOURCE_EXHAUSTED"
}

// RetryAfterSeconds extracts the retry hint of a rate-limited response. A
// RetryInfo detail in the body wins over the Retry-After header.
func RetryAfterSeconds(body []byte, header http.Header, def int) int {
	if n, ok := retryInfoDelay(body); ok {
		return n
	}
	if header != nil {
		if n, ok := parseRetryAfterHeader(header.Get("Retry-After")); ok {
			return n
		}
	}
	return def
}

func retryInfoDelay(body []byte) (int, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return 0, false
	}
	for _, path := range []string{"error.details", "details"} {
		secs, found := 0, false
		gjson.GetBytes(body, path).ForEach(func(_, detail gjson.Result) bool {
			if !strings.Contains(detailType(detail), "RetryInfo") {
				return true
			}
			secs, found = parseDelay(detail.Get("retryDelay"))
			return !found
		})
		if found {
			return secs, true
		}
	}
	return 0, false
}

// detailType reads the "@type" key directly; "@" starts a modifier in gjson paths.
func detailType(detail gjson.Result) string {
	var typ string
	detail.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "@type" {
			typ = value.String()
			return false
		}
		return true
	})
	return typ
}

func parseDelay(v gjson.Result) (int, bool) {
	switch {
	case v.Type == gjson.String:
		d, err := time.ParseDuration(strings.TrimSpace(v.String()))
		if err != nil || d < 0 {
			return 0, false
		}
		return int(math.Ceil(d.Seconds())), true
	case v.IsObject():
		secs := v.Get("seconds")
		if !secs.Exists() {
			return 0, false
		}
		n := secs.Int()
		if n < 0 {
			return 0, false
		}
		if v.Get("nanos").Int() > 0 {
			n++
		}
		return int(n), true
	}
	return 0, false
}

func parseRetryAfterHeader(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return n, true
	}
	if t, err := http.ParseTime(v); err == nil {
		secs := int(math.Ceil(time.Until(t).Seconds()))
		if secs < 0 {
			secs = 0
		}
		return secs, true
	}
	return 0, false
}
