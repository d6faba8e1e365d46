package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/neurobridge-synthesis/internal/observability"
	"github.com/yungbote/neurobridge-synthesis/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/cache"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/client"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/decode"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/progression"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/prompt"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/quality"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/reconcile"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/score"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/validate"
)

const (
	DefaultCallTimeout   = 60 * time.Second
	DefaultMaxConcurrent = 3
)

type state string

const (
	stateCacheLookup state = "cache_lookup"
	stateCacheHit    state = "cache_hit"
	stateCacheMiss   state = "cache_miss"
	statePrompting   state = "prompting"
	stateCalling     state = "calling"
	stateDecoding    state = "decoding"
	stateValidating  state = "validating"
	stateReconciling state = "reconciling"
	stateScoring     state = "scoring"
	stateCacheStore  state = "cache_store"
	stateDone        state = "done"
	stateClientError state = "client_error"
)

type Options struct {
	Backend       string
	CallTimeout   time.Duration
	MaxConcurrent int
}

// Deps are the collaborators of an Engine. Client is required; the rest have defaults.
type Deps struct {
	Log      *logger.Logger
	Client   client.Client
	Registry *content.Registry
	Prompts  prompt.Builder
	Decoder  *decode.Decoder
	Cache    cache.Store
	Metrics  *observability.Metrics
}

// Engine turns a GenerationSpec into exactly TargetCount validated, scored items.
type Engine struct {
	log      *logger.Logger
	client   client.Client
	registry *content.Registry
	prompts  prompt.Builder
	decoder  *decode.Decoder
	cache    cache.Store
	metrics  *observability.Metrics

	backend       string
	callTimeout   time.Duration
	maxConcurrent int

	flight    singleflight.Group
	flightMu  sync.Mutex
	flights   map[string]*flight
	flightSeq uint64
	now       func() time.Time
}

func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("generation client required")
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	if deps.Registry == nil {
		deps.Registry = content.DefaultRegistry()
	}
	if deps.Prompts == nil {
		deps.Prompts = prompt.NewTemplateBuilder(0.4, deps.Client.SupportsConstrained())
	}
	if deps.Decoder == nil {
		deps.Decoder = decode.New(log)
	}
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	backend := strings.TrimSpace(opts.Backend)
	if backend == "" {
		backend = "default"
	}

	return &Engine{
		log:           log.With("service", "SynthesisEngine", "backend", backend),
		client:        deps.Client,
		registry:      deps.Registry,
		prompts:       deps.Prompts,
		decoder:       deps.Decoder,
		cache:         deps.Cache,
		metrics:       deps.Metrics,
		backend:       backend,
		callTimeout:   opts.CallTimeout,
		maxConcurrent: opts.MaxConcurrent,
		flights:       map[string]*flight{},
		now:           time.Now,
	}, nil
}

func (e *Engine) Backend() string             { return e.backend }
func (e *Engine) Registry() *content.Registry { return e.registry }
func (e *Engine) Cache() cache.Store          { return e.cache }

// Synthesize runs one generation cycle. The only errors are content.ErrInvalidSpec for a bad spec
// and *ClientError when the client fails before returning any text. Every other failure degrades
// through the decoder tiers and the count reconciler, so a nil error always comes with exactly
// spec.TargetCount items.
func (e *Engine) Synthesize(ctx context.Context, spec content.GenerationSpec, pctx content.ProgressionContext) (content.SynthesisResult, error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "synthesis.synthesize", trace.WithAttributes(
		attribute.String("synthesis.schema_id", spec.SchemaID),
		attribute.Int("synthesis.target_count", spec.TargetCount),
		attribute.String("synthesis.backend", e.backend),
	))
	defer span.End()

	if err := spec.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid spec")
		return content.SynthesisResult{}, err
	}

	key := cache.Key(spec)
	span.SetAttributes(attribute.String("synthesis.cache_key", key))
	log := e.log.With(append([]any{"cache_key", key, "schema_id", spec.SchemaID}, ctxutil.LogFields(ctx)...)...)

	e.transition(span, log, stateCacheLookup)
	if res, ok := e.cache.Get(ctx, key); ok {
		e.transition(span, log, stateCacheHit)
		res.CacheHit = true
		res.CacheKey = key
		e.observe(spec, res, time.Since(start))
		log.Debug("synthesis served from cache", "items", len(res.Items))
		return res, nil
	}
	e.transition(span, log, stateCacheMiss)

	f, w := e.joinFlight(ctx, key)
	defer e.leaveFlight(key, f, w)
	ch := e.flight.DoChan(f.id, func() (any, error) {
		// A concurrent call may have stored the result between our lookup and joining the flight.
		if res, ok := e.cache.Get(f.ctx, key); ok {
			res.CacheHit = true
			return res, nil
		}
		return e.generate(f, log, spec, pctx, key)
	})

	var r singleflight.Result
	select {
	case <-ctx.Done():
		return content.SynthesisResult{}, e.fail(span, log, &ClientError{Backend: e.backend, Err: ctx.Err(), Canceled: true})
	case r = <-ch:
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return content.SynthesisResult{}, e.fail(span, log, &ClientError{Backend: e.backend, Err: ctxErr, Canceled: true})
	}
	if r.Err != nil {
		return content.SynthesisResult{}, e.fail(span, log, r.Err)
	}
	res := r.Val.(content.SynthesisResult)
	if r.Shared {
		res = res.Clone()
	}
	e.transition(span, log, stateDone)
	e.observe(spec, res, time.Since(start))
	return res, nil
}

func (e *Engine) fail(span trace.Span, log *logger.Logger, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.transition(span, log, stateClientError)
	return err
}

// generate runs the miss path for a flight. The result is stored only while some caller still
// wants it; a flight every caller abandoned ends with a canceled ClientError and leaves no entry.
func (e *Engine) generate(f *flight, log *logger.Logger, spec content.GenerationSpec, pctx content.ProgressionContext, key string) (content.SynthesisResult, error) {
	ctx, span := observability.Tracer().Start(f.ctx, "synthesis.generate")
	defer span.End()
	canceled := func(state string) (content.SynthesisResult, error) {
		err := context.Canceled
		if ctxErr := f.ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		log.Debug("synthesis abandoned by every caller", "state", state)
		return content.SynthesisResult{}, &ClientError{Backend: e.backend, Err: err, Canceled: true}
	}

	schema := e.registry.Lookup(spec.SchemaID)
	strategy := progression.BuildStrategy(pctx)

	e.transition(span, log, statePrompting)
	req, err := e.prompts.Build(prompt.Input{Spec: spec, Schema: schema, Strategy: strategy, Context: pctx})
	if err != nil {
		return content.SynthesisResult{}, fmt.Errorf("build prompt: %w", err)
	}

	e.transition(span, log, stateCalling)
	comp, err := e.complete(ctx, req)
	if err != nil {
		if !e.wanted(f) {
			return canceled(string(stateCalling))
		}
		e.metrics.IncClientError(e.backend)
		if strings.TrimSpace(comp.Text) == "" && comp.Structured == nil {
			log.Warn("generation client failed", "error", err.Error())
			return content.SynthesisResult{}, &ClientError{Backend: e.backend, Err: err}
		}
		log.Warn("generation client errored after returning text; decoding it", "error", err.Error())
	}

	e.transition(span, log, stateDecoding)
	in := decode.Input{
		Text:        comp.Text,
		Structured:  comp.Structured,
		Constrained: comp.Constrained,
		Spec:        spec,
		Schema:      schema,
		Strategy:    strategy,
	}
	out := e.decode(ctx, in)

	e.transition(span, log, stateValidating)
	validator := validate.New(schema, spec)
	kept, report := validator.Validate(out.Items)
	e.metrics.ObserveValidation(reportReasons(report))
	if report.Dropped() > 0 {
		log.Debug("validation dropped items", "tier", string(out.Tier), "input", report.Input, "kept", report.Kept)
	}

	var rec content.Reconciliation
	tier := out.Tier
	if len(kept) == 0 {
		em := e.decoder.Emergency(in)
		if tier != content.TierEmergencyTemplate {
			rec.ValidationEmpty = true
			log.Warn("validation rejected every decoded item; using emergency template", "tier", string(tier))
		}
		tier = em.Tier
		kept, _ = validator.Validate(em.Items)
		if len(kept) == 0 {
			kept = em.Items
		}
	}

	items := make([]content.CandidateItem, len(kept))
	for i, p := range kept {
		items[i] = content.CandidateItem{Payload: p, Synthesized: tier == content.TierEmergencyTemplate}
	}

	e.transition(span, log, stateReconciling)
	scorer := score.New(schema, spec)
	scorer.Annotate(items)
	items, counts := reconcile.New(schema, spec, scorer).Reconcile(items, strategy)
	rec.Trimmed = counts.Trimmed
	rec.Filled = counts.Filled

	e.transition(span, log, stateScoring)
	metrics := quality.Compute(items, spec, pctx, strategy)

	res := content.SynthesisResult{
		Items:           items,
		Metrics:         metrics,
		DecoderTierUsed: tier,
		Reconciliation:  rec,
		Strategy:        strategy,
		CacheKey:        key,
		GeneratedAt:     e.now().UTC(),
	}

	if !e.wanted(f) {
		return canceled(string(stateCacheStore))
	}
	e.transition(span, log, stateCacheStore)
	if err := e.cache.Set(ctx, key, res); err != nil {
		log.Warn("cache store failed", "error", err.Error())
	}
	e.metrics.SetCacheEntries(e.cache.Len(ctx))

	span.SetAttributes(
		attribute.String("synthesis.decoder_tier", string(tier)),
		attribute.Int("synthesis.trimmed", rec.Trimmed),
		attribute.Int("synthesis.filled", rec.Filled),
	)
	fields := []interface{}{
		"decoder_tier", string(tier),
		"coverage", metrics.Coverage,
		"coherence", metrics.Coherence,
		"progression_fit", metrics.ProgressionFit,
		"trimmed", rec.Trimmed,
		"filled", rec.Filled,
		"validation_empty", rec.ValidationEmpty,
		"progression_tag", string(strategy.Tag),
	}
	if tier.Degraded() {
		log.Warn("synthesis used degraded decoder tier", fields...)
	} else {
		log.Info("synthesis complete", fields...)
	}
	if quality.ShouldRegenerate(metrics, quality.DefaultThresholds()) {
		log.Info("synthesis quality below thresholds; caller may regenerate", fields...)
	}
	return res, nil
}

func (e *Engine) complete(ctx context.Context, req client.Request) (client.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	ctx, span := observability.Tracer().Start(ctx, "synthesis.client.complete", trace.WithAttributes(
		attribute.String("synthesis.backend", e.backend),
		attribute.Bool("synthesis.schema_requested", req.Schema != nil),
	))
	defer span.End()

	comp, err := e.client.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return comp, err
	}
	span.SetAttributes(attribute.Bool("synthesis.constrained", comp.Constrained))
	return comp, nil
}

func (e *Engine) decode(ctx context.Context, in decode.Input) decode.Output {
	_, span := observability.Tracer().Start(ctx, "synthesis.decode")
	defer span.End()
	out := e.decoder.Decode(in)
	span.SetAttributes(
		attribute.String("synthesis.decoder_tier", string(out.Tier)),
		attribute.Int("synthesis.decoded_items", len(out.Items)),
	)
	return out
}

func (e *Engine) transition(span trace.Span, log *logger.Logger, s state) {
	span.AddEvent(string(s))
	log.Debug("synthesis state", "state", string(s))
}

func (e *Engine) observe(spec content.GenerationSpec, res content.SynthesisResult, dur time.Duration) {
	e.metrics.ObserveSynthesis(observability.SynthesisObservation{
		Schema:          spec.SchemaID,
		Tier:            string(res.DecoderTierUsed),
		CacheHit:        res.CacheHit,
		Duration:        dur,
		Trimmed:         res.Reconciliation.Trimmed,
		Filled:          res.Reconciliation.Filled,
		ValidationEmpty: res.Reconciliation.ValidationEmpty,
		Coverage:        res.Metrics.Coverage,
		Coherence:       res.Metrics.Coherence,
		ProgressionFit:  res.Metrics.ProgressionFit,
		LowQuality:      quality.ShouldRegenerate(res.Metrics, quality.DefaultThresholds()),
	})
}

func reportReasons(r validate.Report) map[string]int {
	return map[string]int{
		"empty":           r.Empty,
		"missing_primary": r.MissingPrimary,
		"too_short":       r.TooShort,
		"placeholder":     r.Placeholders,
		"duplicate":       r.Duplicates,
		"backfilled":      r.Backfilled,
	}
}
