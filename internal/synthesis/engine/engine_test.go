package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/cache"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client/mock"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

type fakeClient struct {
	text        string
	structured  any
	constrained bool
	err         error
	block       bool
	release     chan struct{}
	onCall      func()
	calls       atomic.Int64
}

func (f *fakeClient) SupportsConstrained() bool { return f.constrained }

func (f *fakeClient) Complete(ctx context.Context, _ client.Request) (client.Completion, error) {
	f.calls.Add(1)
	if f.onCall != nil {
		f.onCall()
	}
	if f.block {
		<-ctx.Done()
		return client.Completion{}, ctx.Err()
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return client.Completion{}, ctx.Err()
		}
	}
	if f.err != nil {
		return client.Completion{}, f.err
	}
	return client.Completion{Text: f.text, Structured: f.structured, Constrained: f.constrained}, nil
}

func newTestEngine(t *testing.T, c client.Client, opts Options) (*Engine, *cache.Memory) {
	t.Helper()
	store := cache.NewMemory(cache.MemoryOptions{TTL: time.Minute, MaxEntries: 64})
	t.Cleanup(func() { _ = store.Close() })
	e, err := New(Deps{Client: c, Cache: store}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, store
}

func hotelSpec() content.GenerationSpec {
	return content.GenerationSpec{
		TargetCount:   5,
		DomainContext: "hotel check-in",
		SeedMaterial:  map[string][]string{"nouns": {"reservation", "passport", "key"}},
		SchemaID:      content.SchemaVocabulary,
	}
}

func TestSynthesize_HotelCheckInRepairsTruncatedJSON(t *testing.T) {
	fc := &fakeClient{text: `{"items":[{"word":"reservation","definition":"a booking made before arrival"},{"word":"passport","definition":"an identity document shown at the desk"}`}
	e, _ := newTestEngine(t, fc, Options{})

	res, err := e.Synthesize(context.Background(), hotelSpec(), content.ProgressionContext{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.DecoderTierUsed != content.TierRepairedJSON {
		t.Fatalf("tier=%s", res.DecoderTierUsed)
	}
	if len(res.Items) != 5 {
		t.Fatalf("items=%d", len(res.Items))
	}
	if res.Metrics.Coverage < 0.6 {
		t.Fatalf("coverage=%v", res.Metrics.Coverage)
	}
	if res.Reconciliation.Filled != 3 {
		t.Fatalf("reconciliation=%+v", res.Reconciliation)
	}
}

func TestSynthesize_CountInvariantAcrossOutcomes(t *testing.T) {
	cases := map[string]*fakeClient{
		"empty":   {text: ""},
		"garbage": {text: "}}]]{{ ,,, :"},
		"prose":   {text: "The guest arrives late and walks to the desk. Nobody is there."},
		"over":    {text: `{"items":[{"word":"alpha"},{"word":"bravo"},{"word":"charlie"},{"word":"delta"},{"word":"echo"},{"word":"foxtrot"},{"word":"golf"}]}`},
		"struct":  {structured: map[string]any{"items": []any{map[string]any{"word": "lobby"}}}, constrained: true},
	}
	for name, fc := range cases {
		for _, n := range []int{1, 3, 6} {
			e, _ := newTestEngine(t, fc, Options{})
			spec := hotelSpec()
			spec.TargetCount = n
			res, err := e.Synthesize(context.Background(), spec, content.ProgressionContext{SequencePosition: 4})
			if err != nil {
				t.Fatalf("%s/%d: %v", name, n, err)
			}
			if len(res.Items) != n {
				t.Fatalf("%s/%d: got %d items", name, n, len(res.Items))
			}
		}
	}
}

func TestSynthesize_ProseNeverErrors(t *testing.T) {
	fc := &fakeClient{text: "Sure! Checking in is easy when you bring your passport and confirm the reservation at the desk."}
	e, _ := newTestEngine(t, fc, Options{})
	res, err := e.Synthesize(context.Background(), hotelSpec(), content.ProgressionContext{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.DecoderTierUsed != content.TierHeuristicText && res.DecoderTierUsed != content.TierEmergencyTemplate {
		t.Fatalf("tier=%s", res.DecoderTierUsed)
	}
	if len(res.Items) != 5 {
		t.Fatalf("items=%d", len(res.Items))
	}
}

func TestSynthesize_StructuredTierWhenConstrained(t *testing.T) {
	mc := mock.New(mock.ModeJSON)
	e, _ := newTestEngine(t, mc, Options{})
	res, err := e.Synthesize(context.Background(), hotelSpec(), content.ProgressionContext{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.DecoderTierUsed != content.TierStructured {
		t.Fatalf("tier=%s", res.DecoderTierUsed)
	}
	if res.Reconciliation.Applied() {
		t.Fatalf("unexpected reconciliation: %+v", res.Reconciliation)
	}
	for _, it := range res.Items {
		if it.Synthesized {
			t.Fatalf("structured items must not be marked synthesized")
		}
	}
}

func TestSynthesize_TargetLargerThanSeedMaterial(t *testing.T) {
	spec := content.GenerationSpec{
		TargetCount:   20,
		DomainContext: "train station",
		SeedMaterial:  map[string][]string{"nouns": {"ticket", "platform", "delay", "luggage", "conductor"}},
		SchemaID:      content.SchemaSentences,
	}
	for _, c := range []client.Client{mock.New(mock.ModeJSON), &fakeClient{text: "nothing useful"}} {
		e, _ := newTestEngine(t, c, Options{})
		res, err := e.Synthesize(context.Background(), spec, content.ProgressionContext{})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if len(res.Items) != 20 {
			t.Fatalf("items=%d", len(res.Items))
		}
	}
}

func TestSynthesize_CacheHitIsIdempotent(t *testing.T) {
	mc := mock.New(mock.ModeJSON)
	e, store := newTestEngine(t, mc, Options{})
	ctx := context.Background()

	first, err := e.Synthesize(ctx, hotelSpec(), content.ProgressionContext{})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := e.Synthesize(ctx, hotelSpec(), content.ProgressionContext{SequencePosition: 7})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if mc.Calls() != 1 {
		t.Fatalf("client calls=%d", mc.Calls())
	}
	if first.CacheHit || !second.CacheHit {
		t.Fatalf("cache flags first=%v second=%v", first.CacheHit, second.CacheHit)
	}
	if second.CacheKey != cache.Key(hotelSpec()) || len(second.Items) != len(first.Items) {
		t.Fatalf("second=%+v", second)
	}

	// Mutating a returned result must not leak into the cache.
	second.Items[0].Payload["word"] = "mutated"
	third, _ := e.Synthesize(ctx, hotelSpec(), content.ProgressionContext{})
	if third.Items[0].Payload["word"] == "mutated" {
		t.Fatalf("cache returned a shared reference")
	}
	if store.Stats(ctx).Hits != 2 {
		t.Fatalf("stats=%+v", store.Stats(ctx))
	}
}

func TestSynthesize_ConcurrentMissesCollapse(t *testing.T) {
	fc := &fakeClient{text: `{"items":[{"word":"reservation"},{"word":"passport"},{"word":"key card"}]}`, release: make(chan struct{})}
	e, _ := newTestEngine(t, fc, Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Synthesize(context.Background(), hotelSpec(), content.ProgressionContext{})
			if err == nil && len(res.Items) != 5 {
				err = errors.New("wrong item count")
			}
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(fc.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
	}
	if n := fc.calls.Load(); n != 1 {
		t.Fatalf("client calls=%d", n)
	}
}

func TestSynthesize_TimeoutIsClientUnavailable(t *testing.T) {
	fc := &fakeClient{block: true}
	timeout := 50 * time.Millisecond
	e, store := newTestEngine(t, fc, Options{Backend: "slow", CallTimeout: timeout})

	start := time.Now()
	_, err := e.Synthesize(context.Background(), hotelSpec(), content.ProgressionContext{})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrClientUnavailable) {
		t.Fatalf("err=%v", err)
	}
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Backend != "slow" || ce.Canceled {
		t.Fatalf("client error=%+v", ce)
	}
	if elapsed > timeout+time.Second {
		t.Fatalf("took %s", elapsed)
	}
	if store.Len(context.Background()) != 0 {
		t.Fatalf("failed call was cached")
	}
}

func TestSynthesize_CallerCancellation(t *testing.T) {
	fc := &fakeClient{block: true}
	e, store := newTestEngine(t, fc, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := e.Synthesize(ctx, hotelSpec(), content.ProgressionContext{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if errors.Is(err, ErrClientUnavailable) {
		t.Fatalf("caller cancellation reported as unavailable")
	}
	if store.Len(context.Background()) != 0 {
		t.Fatalf("canceled call was cached")
	}
}

func (e *Engine) waiterCount(key string) int {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	if f := e.flights[key]; f != nil {
		return len(f.waiters)
	}
	return 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSynthesize_OneCallerCancelingDoesNotFailOthers(t *testing.T) {
	fc := &fakeClient{text: `{"items":[{"word":"reservation"},{"word":"passport"},{"word":"key card"}]}`, release: make(chan struct{})}
	e, store := newTestEngine(t, fc, Options{})
	key := cache.Key(hotelSpec())

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := e.Synthesize(ctxA, hotelSpec(), content.ProgressionContext{})
		errA <- err
	}()
	waitFor(t, "first call", func() bool { return fc.calls.Load() == 1 })

	type outcome struct {
		res content.SynthesisResult
		err error
	}
	outB := make(chan outcome, 1)
	go func() {
		res, err := e.Synthesize(context.Background(), hotelSpec(), content.ProgressionContext{})
		outB <- outcome{res, err}
	}()
	waitFor(t, "second caller to join", func() bool { return e.waiterCount(key) == 2 })

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("A err=%v", err)
	}
	close(fc.release)

	b := <-outB
	if b.err != nil {
		t.Fatalf("B err=%v", b.err)
	}
	if len(b.res.Items) != 5 {
		t.Fatalf("B items=%d", len(b.res.Items))
	}
	if n := fc.calls.Load(); n != 1 {
		t.Fatalf("client calls=%d", n)
	}
	if store.Len(context.Background()) != 1 {
		t.Fatalf("result for the remaining caller was not cached")
	}
}

func TestSynthesize_CanceledDuringCallIsNotCached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fc := &fakeClient{
		text:   `{"items":[{"word":"reservation"},{"word":"passport"},{"word":"key card"},{"word":"lobby"},{"word":"suitcase"}]}`,
		onCall: cancel,
	}
	e, store := newTestEngine(t, fc, Options{})

	res, err := e.Synthesize(ctx, hotelSpec(), content.ProgressionContext{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v items=%d", err, len(res.Items))
	}
	var ce *ClientError
	if !errors.As(err, &ce) || !ce.Canceled {
		t.Fatalf("want canceled ClientError, got %v", err)
	}
	if store.Len(context.Background()) != 0 {
		t.Fatalf("canceled call was cached")
	}
	if n := e.waiterCount(cache.Key(hotelSpec())); n != 0 {
		t.Fatalf("waiters left behind: %d", n)
	}
}

func TestSynthesize_ClientErrorWithTextAfterCancelIsDiscarded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fc := &textThenErrClient{text: `{"items":[{"word":"reservation"}`, onCall: cancel}
	e, store := newTestEngine(t, fc, Options{})

	_, err := e.Synthesize(ctx, hotelSpec(), content.ProgressionContext{})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrClientUnavailable) {
		t.Fatalf("err=%v", err)
	}
	if store.Len(context.Background()) != 0 {
		t.Fatalf("partial text from a canceled call was cached")
	}
}

type textThenErrClient struct {
	text   string
	onCall func()
}

func (c *textThenErrClient) SupportsConstrained() bool { return false }

func (c *textThenErrClient) Complete(context.Context, client.Request) (client.Completion, error) {
	c.onCall()
	return client.Completion{Text: c.text}, errors.New("stream reset")
}

func TestSynthesize_TransportErrorIsClientUnavailable(t *testing.T) {
	fc := &fakeClient{err: &client.HTTPError{StatusCode: 503, Body: "overloaded"}}
	e, _ := newTestEngine(t, fc, Options{})
	_, err := e.Synthesize(context.Background(), hotelSpec(), content.ProgressionContext{})
	if !errors.Is(err, ErrClientUnavailable) {
		t.Fatalf("err=%v", err)
	}
	var he *client.HTTPError
	if !errors.As(err, &he) || he.StatusCode != 503 {
		t.Fatalf("http error not preserved: %v", err)
	}
}

func TestSynthesize_InvalidSpec(t *testing.T) {
	fc := &fakeClient{}
	e, _ := newTestEngine(t, fc, Options{})
	spec := hotelSpec()
	spec.TargetCount = 0
	_, err := e.Synthesize(context.Background(), spec, content.ProgressionContext{})
	if !errors.Is(err, content.ErrInvalidSpec) {
		t.Fatalf("err=%v", err)
	}
	if errors.Is(err, ErrClientUnavailable) {
		t.Fatalf("invalid spec reported as client error")
	}
	if fc.calls.Load() != 0 {
		t.Fatalf("client called for invalid spec")
	}
}

func TestSynthesize_ValidationEmptyFallsBackToEmergency(t *testing.T) {
	fc := &fakeClient{text: `{"items":[{"definition":"no headword"},{"definition":"still none"}]}`}
	e, _ := newTestEngine(t, fc, Options{})
	res, err := e.Synthesize(context.Background(), hotelSpec(), content.ProgressionContext{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !res.Reconciliation.ValidationEmpty || res.DecoderTierUsed != content.TierEmergencyTemplate {
		t.Fatalf("tier=%s rec=%+v", res.DecoderTierUsed, res.Reconciliation)
	}
	if len(res.Items) != 5 {
		t.Fatalf("items=%d", len(res.Items))
	}
	for _, it := range res.Items {
		if !it.Synthesized {
			t.Fatalf("emergency items must be marked synthesized: %+v", it)
		}
	}
}

func TestSynthesize_DeterministicForSameInput(t *testing.T) {
	run := func() content.SynthesisResult {
		e, _ := newTestEngine(t, &fakeClient{text: "no json at all"}, Options{})
		res, err := e.Synthesize(context.Background(), hotelSpec(), content.ProgressionContext{SequencePosition: 3})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		return res
	}
	a, b := run(), run()
	for i := range a.Items {
		pa := content.StringField(a.Items[i].Payload, "word")
		pb := content.StringField(b.Items[i].Payload, "word")
		if pa != pb {
			t.Fatalf("item %d differs: %q vs %q", i, pa, pb)
		}
	}
}

func TestSynthesizeBatch_IsolatesFailures(t *testing.T) {
	mc := mock.New(mock.ModeJSON)
	e, _ := newTestEngine(t, mc, Options{MaxConcurrent: 2})

	bad := hotelSpec()
	bad.SchemaID = ""
	other := hotelSpec()
	other.DomainContext = "airport security"

	out := e.SynthesizeBatch(context.Background(), []Request{
		{Spec: hotelSpec()},
		{Spec: bad},
		{Spec: other},
	})
	if len(out) != 3 {
		t.Fatalf("results=%d", len(out))
	}
	if out[0].Err != nil || out[2].Err != nil {
		t.Fatalf("unexpected errors: %v %v", out[0].Err, out[2].Err)
	}
	if !errors.Is(out[1].Err, content.ErrInvalidSpec) || out[1].Result != nil {
		t.Fatalf("bad request=%+v", out[1])
	}
	for _, i := range []int{0, 2} {
		if out[i].Index != i || len(out[i].Result.Items) != 5 {
			t.Fatalf("result %d=%+v", i, out[i])
		}
	}
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(Deps{}, Options{}); err == nil {
		t.Fatalf("expected error")
	}
}
