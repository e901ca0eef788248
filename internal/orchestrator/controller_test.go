package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kalambet/santaline/internal/gemini"
)

const hoHoHo = `{"candidates":[{"content":{"parts":[{"text":"Ho ho ho!"}]}}]}`

// scriptedDispatcher replays outcomes per candidate. The last outcome of a
// script repeats; unscripted candidates are NotSupported.
type scriptedDispatcher struct {
	mu     sync.Mutex
	script map[Candidate][]DispatchOutcome
	calls  []Target
}

func newScript(script map[Candidate][]DispatchOutcome) *scriptedDispatcher {
	return &scriptedDispatcher{script: script}
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, t Target) DispatchOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, t)

	outs := d.script[t.Candidate]
	if len(outs) == 0 {
		return DispatchOutcome{Kind: OutcomeNotSupported, Status: 404}
	}
	if len(outs) > 1 {
		d.script[t.Candidate] = outs[1:]
	}
	return outs[0]
}

func (d *scriptedDispatcher) callsFor(c Candidate) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.calls {
		if t.Candidate == c {
			n++
		}
	}
	return n
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func ok(body string) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeOK, Status: 200, Body: []byte(body)}
}

func rateLimited(secs int) DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeRateLimited, Status: 429, RetryAfter: secs}
}

func serverError() DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeServerError, Status: 503}
}

func notSupported() DispatchOutcome {
	return DispatchOutcome{Kind: OutcomeNotSupported, Status: 404}
}

func newTestController(d Dispatcher, models []string, lister ModelLister, opts ...ControllerOption) (*Controller, *sleepLog) {
	mc := ModelConfig{Defaults: models}
	r := NewResolver(mc, mc, mc, lister, quietLogger())
	sl := &sleepLog{}
	opts = append([]ControllerOption{WithSleeper(sl.sleep), WithLogger(quietLogger())}, opts...)
	return NewController(r, d, opts...), sl
}

func TestRun_ExampleScenario(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newScript(map[Candidate][]DispatchOutcome{
		"model-x": {notSupported()},
		"model-y": {ok(hoHoHo)},
	})
	c, _ := newTestController(d, []string{"model-x", "model-y"}, nil)

	res, err := c.Run(context.Background(), &Request{Capability: GenerateText, Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, TerminalSuccess, res.Terminal)
	assert.Equal(t, "Ho ho ho!", res.Payload)
	assert.Equal(t, Candidate("model-y"), res.Candidate)
	assert.Equal(t, []Candidate{"model-x", "model-y"}, res.Tried)
}

func TestRun_AttemptOrderFidelity(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name   string
		script map[Candidate][]DispatchOutcome
		tried  []Candidate
		term   Terminal
	}{
		{
			name:   "first succeeds",
			script: map[Candidate][]DispatchOutcome{"A": {ok(hoHoHo)}},
			tried:  []Candidate{"A"},
			term:   TerminalSuccess,
		},
		{
			name: "second succeeds",
			script: map[Candidate][]DispatchOutcome{
				"A": {{Kind: OutcomeNetworkError, Err: errors.New("connection reset")}},
				"B": {ok(hoHoHo)},
			},
			tried: []Candidate{"A", "B"},
			term:  TerminalSuccess,
		},
		{
			name: "third succeeds",
			script: map[Candidate][]DispatchOutcome{
				"A": {{Kind: OutcomeClientError, Status: 400, Body: []byte(`{"error":{}}`)}},
				"B": {rateLimited(5)},
				"C": {ok(hoHoHo)},
			},
			tried: []Candidate{"A", "B", "C"},
			term:  TerminalSuccess,
		},
		{
			name: "all fail",
			script: map[Candidate][]DispatchOutcome{
				"A": {serverError()},
				"B": {notSupported()},
				"C": {{Kind: OutcomeClientError, Status: 403}},
			},
			tried: []Candidate{"A", "B", "C"},
			term:  TerminalAllFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestController(newScript(tt.script), []string{"A", "B", "C"}, nil)

			res, err := c.Run(context.Background(), &Request{Capability: GenerateText, Prompt: "hi"})
			require.NoError(t, err)
			assert.Equal(t, tt.term, res.Terminal)
			assert.Equal(t, tt.tried, res.Tried)
		})
	}
}

func TestRun_ServerErrorRetriedExactlyOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newScript(map[Candidate][]DispatchOutcome{
		"A": {serverError(), serverError(), ok(hoHoHo)},
		"B": {ok(hoHoHo)},
	})
	c, sl := newTestController(d, []string{"A", "B"}, nil)

	res, err := c.Run(context.Background(), &Request{Capability: GenerateText, Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 2, d.callsFor("A"))
	assert.Equal(t, Candidate("B"), res.Candidate)
	assert.Equal(t, []time.Duration{DefaultServerErrorDelay}, sl.delays)
	assert.Len(t, res.Attempts, 3)
	assert.Equal(t, []Candidate{"A", "B"}, res.Tried)
}

func TestRun_ServerErrorThenRecovery(t *testing.T) {
	d := newScript(map[Candidate][]DispatchOutcome{
		"A": {serverError(), ok(hoHoHo)},
	})
	c, _ := newTestController(d, []string{"A", "B"}, nil)

	res, err := c.Run(context.Background(), &Request{Capability: GenerateText, Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, TerminalSuccess, res.Terminal)
	assert.Equal(t, Candidate("A"), res.Candidate)
	assert.Equal(t, []Candidate{"A"}, res.Tried)
}

func TestRun_NotSupportedFastSkip(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newScript(map[Candidate][]DispatchOutcome{
		"A": {notSupported()},
		"B": {ok(hoHoHo)},
	})
	c, sl := newTestController(d, []string{"A", "B"}, nil)

	res, err := c.Run(context.Background(), &Request{Capability: GenerateText, Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 1, d.callsFor("A"))
	assert.Empty(t, sl.delays)
	assert.Equal(t, Candidate("B"), res.Candidate)
}

func TestRun_QuotaExhaustedSurfacesRetryHint(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newScript(map[Candidate][]DispatchOutcome{
		"A": {rateLimited(42)},
		"B": {rateLimited(42)},
	})
	lister := &fakeLister{models: []gemini.Model{{Name: "models/C", SupportedGenerationMethods: []string{"generateContent"}}}}
	c, sl := newTestController(d, []string{"A", "B"}, lister)

	res, err := c.Run(context.Background(), &Request{Capability: GenerateText, Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, TerminalQuotaExhausted, res.Terminal)
	assert.Equal(t, 42, res.RetryAfter)
	assert.Equal(t, []Candidate{"A", "B"}, res.Tried)
	assert.Equal(t, []time.Duration{DefaultRateLimitDelay}, sl.delays)
	assert.Zero(t, lister.calls, "quota exhaustion must not trigger discovery")
}

func TestRun_EmptyResultIsNotSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newScript(map[Candidate][]DispatchOutcome{
		"A": {ok(`{"candidates":[{"content":{"parts":[{"text":"   "}]}}]}`)},
		"B": {ok(hoHoHo)},
	})
	c, _ := newTestController(d, []string{"A", "B"}, nil)

	res, err := c.Run(context.Background(), &Request{Capability: GenerateText, Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, TerminalSuccess, res.Terminal)
	assert.Equal(t, Candidate("B"), res.Candidate)
	// Both text shapes are tried against A before advancing.
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, ShapeGenerateContent, res.Attempts[0].Shape)
	assert.True(t, res.Attempts[0].Empty)
	assert.Equal(t, ShapePredict, res.Attempts[1].Shape)
	assert.True(t, res.Attempts[1].Empty)
}

func TestRun_ImageTextReplyIsFailedAttempt(t *testing.T) {
	d := newScript(map[Candidate][]DispatchOutcome{
		"A": {ok(`{"candidates":[{"content":{"parts":[{"text":"I can only describe images."}]}}]}`)},
		"B": {ok(`{"predictions":[{"bytesBase64Encoded":"` + fakeImage + `","mimeType":"image/png"}]}`)},
	})
	c, _ := newTestController(d, []string{"A", "B"}, nil)

	res, err := c.Run(context.Background(), &Request{Capability: GenerateImage, Prompt: "a sleigh"})
	require.NoError(t, err)

	assert.Equal(t, TerminalSuccess, res.Terminal)
	assert.Equal(t, Candidate("B"), res.Candidate)
	assert.Equal(t, fakeImage, res.Payload)
	assert.Equal(t, "image/png", res.MIMEType)
}

func TestRun_ImageExhaustionRequestsFallback(t *testing.T) {
	defer goleak.VerifyNone(t)

	scripts := map[string]map[Candidate][]DispatchOutcome{
		"mixed failures": {
			"A": {serverError()},
			"B": {notSupported()},
			"C": {ok(`{"candidates":[{"content":{"parts":[{"text":"no"}]}}]}`)},
		},
		"quota": {
			"A": {rateLimited(7)},
			"B": {rateLimited(7)},
			"C": {rateLimited(9)},
		},
	}
	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestController(newScript(script), []string{"A", "B", "C"}, nil)

			res, err := c.Run(context.Background(), &Request{Capability: GenerateImage, Prompt: "a sleigh"})
			require.NoError(t, err)
			assert.Equal(t, TerminalFallback, res.Terminal)
			assert.NotEqual(t, TerminalAllFailed, res.Terminal)
			assert.Equal(t, []Candidate{"A", "B", "C"}, res.Tried)
		})
	}
}

func TestRun_IdempotentResubmission(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newScript(map[Candidate][]DispatchOutcome{
		"A": {{Kind: OutcomeNetworkError, Err: errors.New("dial tcp: refused")}},
		"B": {{Kind: OutcomeNetworkError, Err: errors.New("dial tcp: refused")}},
	})
	c, _ := newTestController(d, []string{"A", "B"}, nil)
	req := &Request{Capability: AnalyzeImage, Prompt: "read", Media: &Media{Data: "aGk=", MIMEType: "image/jpeg"}}

	first, err := c.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, TerminalAllFailed, first.Terminal)
	assert.Equal(t, TerminalAllFailed, second.Terminal)
	assert.Equal(t, []Candidate{"A", "B"}, first.Tried)
	assert.Equal(t, []Candidate{"A", "B"}, second.Tried)
	assert.Equal(t, 2, d.callsFor("A"))
	assert.Equal(t, 2, d.callsFor("B"))
}

func TestRun_DiscoveryAfterStaticExhaustion(t *testing.T) {
	d := newScript(map[Candidate][]DispatchOutcome{
		"A": {notSupported()},
		"D": {ok(hoHoHo)},
	})
	lister := &fakeLister{models: []gemini.Model{
		{Name: "models/A", SupportedGenerationMethods: []string{"generateContent"}},
		{Name: "models/E", SupportedGenerationMethods: []string{"embedContent"}},
		{Name: "models/D", SupportedGenerationMethods: []string{"generateContent"}},
	}}
	c, _ := newTestController(d, []string{"A"}, lister)

	res, err := c.Run(context.Background(), &Request{Capability: GenerateText, Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, TerminalSuccess, res.Terminal)
	assert.Equal(t, Candidate("D"), res.Candidate)
	assert.Equal(t, []Candidate{"A", "D"}, res.Tried)
	assert.Equal(t, 1, lister.calls)
}

func TestRun_DiscoveryFailureReportsAllFailed(t *testing.T) {
	d := newScript(map[Candidate][]DispatchOutcome{"A": {serverError()}})
	lister := &fakeLister{err: errors.New("unauthorized")}
	c, _ := newTestController(d, []string{"A"}, lister)

	res, err := c.Run(context.Background(), &Request{Capability: GenerateText, Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, TerminalAllFailed, res.Terminal)
	assert.Equal(t, []Candidate{"A"}, res.Tried)
	require.Error(t, res.LastErr)
	assert.Contains(t, res.LastErr.Error(), "server_error")
}

func TestRun_DiscoveryOnlyForText(t *testing.T) {
	lister := &fakeLister{models: []gemini.Model{{Name: "models/Z", SupportedGenerationMethods: []string{"generateContent"}}}}
	c, _ := newTestController(newScript(nil), []string{"A"}, lister)

	res, err := c.Run(context.Background(), &Request{Capability: AnalyzeImage, Prompt: "read", Media: &Media{Data: "aGk="}})
	require.NoError(t, err)

	assert.Equal(t, TerminalAllFailed, res.Terminal)
	assert.Zero(t, lister.calls)
}

func TestRun_PinnedShape(t *testing.T) {
	d := newScript(map[Candidate][]DispatchOutcome{
		"imagen:predict": {ok(`{"predictions":[{"bytesBase64Encoded":"` + fakeImage + `"}]}`)},
	})
	c, _ := newTestController(d, []string{"imagen:predict"}, nil)

	res, err := c.Run(context.Background(), &Request{Capability: GenerateImage, Prompt: "a sleigh"})
	require.NoError(t, err)

	assert.Equal(t, TerminalSuccess, res.Terminal)
	require.Len(t, d.calls, 1)
	assert.Equal(t, ShapePredict, d.calls[0].Shape)
}

type fakeFetcher struct {
	data, mime string
	err        error
	urls       []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, string, error) {
	f.urls = append(f.urls, url)
	return f.data, f.mime, f.err
}

func TestRun_ImageURLIsFetched(t *testing.T) {
	d := newScript(map[Candidate][]DispatchOutcome{
		"A": {ok(`{"data":[{"url":"https://cdn.example.com/santa.png"}]}`)},
	})
	f := &fakeFetcher{data: fakeImage, mime: "image/jpeg"}
	c, _ := newTestController(d, []string{"A"}, nil, WithFetcher(f))

	res, err := c.Run(context.Background(), &Request{Capability: GenerateImage, Prompt: "a sleigh"})
	require.NoError(t, err)

	assert.Equal(t, TerminalSuccess, res.Terminal)
	assert.Equal(t, fakeImage, res.Payload)
	assert.Equal(t, "image/jpeg", res.MIMEType)
	assert.Equal(t, []string{"https://cdn.example.com/santa.png"}, f.urls)
}

func TestRun_ImageURLFetchFailureAdvances(t *testing.T) {
	d := newScript(map[Candidate][]DispatchOutcome{
		"A": {ok(`{"data":[{"url":"https://cdn.example.com/gone.png"}]}`)},
		"B": {ok(`{"imageData":"` + fakeImage + `"}`)},
	})
	f := &fakeFetcher{err: errors.New("404")}
	c, _ := newTestController(d, []string{"A", "B"}, nil, WithFetcher(f))

	res, err := c.Run(context.Background(), &Request{Capability: GenerateImage, Prompt: "a sleigh"})
	require.NoError(t, err)

	assert.Equal(t, TerminalSuccess, res.Terminal)
	assert.Equal(t, Candidate("B"), res.Candidate)
}

func TestRun_CanceledContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newScript(map[Candidate][]DispatchOutcome{"A": {ok(hoHoHo)}})
	c, _ := newTestController(d, []string{"A"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Run(ctx, &Request{Capability: GenerateText, Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, TerminalAllFailed, res.Terminal)
	assert.ErrorIs(t, res.LastErr, context.Canceled)
	assert.Empty(t, d.calls)
}

func TestRun_RealSleeperHonorsCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_UnknownCapability(t *testing.T) {
	c, _ := newTestController(newScript(nil), []string{"A"}, nil)

	_, err := c.Run(context.Background(), &Request{Capability: Capability(42), Prompt: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
