package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mixaill76/gemini_gateway/internal/auth"
	"github.com/mixaill76/gemini_gateway/internal/cache"
	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
	"github.com/mixaill76/gemini_gateway/internal/httputil"
	"github.com/mixaill76/gemini_gateway/internal/logger"
	"github.com/mixaill76/gemini_gateway/internal/monitoring"
	"github.com/mixaill76/gemini_gateway/internal/proxy"
	"github.com/mixaill76/gemini_gateway/internal/ratelimit"
)

const (
	EndpointChat       = "chat_completions"
	EndpointEmbeddings = "embeddings"
	EndpointModels     = "models"
)

// Cache results reported in logs, metrics and the X-Cache header.
const (
	cacheHit       = "hit"
	cacheMiss      = "miss"
	cacheCoalesced = "coalesced"
	cacheBypass    = "bypass"
)

// Limiter is the admission gate.
type Limiter interface {
	Admit(client string) error
	Release()
	InFlight() int
}

// Engine is the part of proxy.Engine the orchestrator drives.
type Engine interface {
	Complete(ctx context.Context, t *proxy.Tracker, req *openai.OpenAIRequest) (*openai.OpenAIResponse, error)
	Stream(ctx context.Context, t *proxy.Tracker, w http.ResponseWriter, req *openai.OpenAIRequest) (bool, error)
	Embed(ctx context.Context, t *proxy.Tracker, req *openai.OpenAIEmbeddingRequest) (*openai.OpenAIEmbeddingResponse, error)
	StreamMode() string
}

// Catalogue answers model listing and allow-list checks.
type Catalogue interface {
	Allowed(model string) bool
	List(ctx context.Context) openai.ModelsResponse
}

type Config struct {
	// TailMessages limits the conversation suffix that keys the cache.
	// Zero or less keys on the whole conversation.
	TailMessages int
	MaxBodyBytes int64
}

type Orchestrator struct {
	access  *auth.Access
	limiter Limiter
	cache   *cache.Store // nil disables caching
	engine  Engine
	models  Catalogue
	cfg     Config
	metrics *monitoring.Metrics
	logger  *slog.Logger
}

func New(access *auth.Access, limiter Limiter, store *cache.Store, engine Engine, models Catalogue, cfg Config, metrics *monitoring.Metrics, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}
	if access == nil {
		access = auth.NewAccess("", nil)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	return &Orchestrator{
		access:  access,
		limiter: limiter,
		cache:   store,
		engine:  engine,
		models:  models,
		cfg:     cfg,
		metrics: metrics,
		logger:  log,
	}
}

// CacheLen reports the number of cached responses, or 0 when caching is off.
func (o *Orchestrator) CacheLen() int {
	if o.cache == nil {
		return 0
	}
	return o.cache.Len()
}

// requestLog carries what the completion line reports.
type requestLog struct {
	endpoint string
	model    string
	stream   bool
	cache    string
	client   string
}

func (o *Orchestrator) finish(r *http.Request, rc *responseCapture, t *proxy.Tracker, rl *requestLog) {
	elapsed := t.Elapsed()
	outcome := t.Outcome()
	if outcome == "" {
		outcome = "failure"
		if rc.statusCode < http.StatusBadRequest {
			outcome = "success"
		}
	}

	attrs := []any{
		"endpoint", rl.endpoint,
		"method", r.Method,
		"path", r.URL.Path,
		"client", rl.client,
		"model", rl.model,
		"status", rc.statusCode,
		"outcome", outcome,
		"credential", t.Credential(),
		"attempts", t.Attempts(),
		"state", t.State().String(),
		"latency_ms", elapsed.Milliseconds(),
	}
	if rl.stream {
		attrs = append(attrs, "stream_mode", o.engine.StreamMode())
	}
	if rl.cache != "" {
		attrs = append(attrs, "cache", rl.cache)
		o.metrics.RecordCacheEvent(rl.cache)
	}
	if err := t.Err(); err != nil {
		attrs = append(attrs, "state_error", err)
	}

	level := slog.LevelInfo
	if rc.statusCode >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	o.logger.Log(r.Context(), level, "Request completed", attrs...)

	o.metrics.RecordRequest(rl.endpoint, outcome, rc.statusCode, elapsed)
	if o.limiter != nil {
		o.metrics.SetInFlight(o.limiter.InFlight())
	}
	o.metrics.SetCacheEntries(o.CacheLen())
}

// fail moves the tracker to Failed and writes err.
func fail(rc *responseCapture, t *proxy.Tracker, err error) {
	t.To(proxy.StateFailed)
	t.SetOutcome("failure")
	proxy.WriteError(rc, err)
}

// authorize maps access errors to 401 or 403.
func (o *Orchestrator) authorize(r *http.Request) error {
	err := o.access.Check(r)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrUserAgentBlocked):
		return proxy.NewError(proxy.KindUnauthorized, http.StatusForbidden, err.Error(), err)
	default:
		return proxy.NewError(proxy.KindUnauthorized, http.StatusUnauthorized, err.Error(), err)
	}
}

// admit runs the access check and admission. On success the caller must
// call release.
func (o *Orchestrator) admit(r *http.Request, t *proxy.Tracker, client string) (release func(), err error) {
	if err := o.authorize(r); err != nil {
		return nil, err
	}
	if o.limiter == nil {
		t.To(proxy.StateAdmitted)
		return func() {}, nil
	}
	if err := o.limiter.Admit(client); err != nil {
		var rej *ratelimit.RejectedError
		if errors.As(err, &rej) {
			o.metrics.RecordRejection(rej.Reason)
			o.logger.Debug("Request rejected by admission", "client", client, "reason", rej.Reason)
		}
		return nil, err
	}
	o.metrics.SetInFlight(o.limiter.InFlight())
	t.To(proxy.StateAdmitted)
	return o.limiter.Release, nil
}

// decode reads a size-limited JSON body into v. It writes nothing.
func (o *Orchestrator) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, o.cfg.MaxBodyBytes)
	defer func() { _ = body.Close() }()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return proxy.NewError(proxy.KindTranslation, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), err)
		}
		return proxy.NewError(proxy.KindTranslation, http.StatusBadRequest, "invalid JSON body: "+err.Error(), err)
	}
	return nil
}

func (o *Orchestrator) checkModel(model string) error {
	if model == "" {
		return proxy.NewError(proxy.KindTranslation, http.StatusBadRequest, "model is required", nil)
	}
	if o.models != nil && !o.models.Allowed(model) {
		return proxy.NewError(proxy.KindModelNotAllowed, http.StatusForbidden,
			fmt.Sprintf("model %q is not allowed", model), nil)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// ChatCompletions serves POST .../chat/completions.
func (o *Orchestrator) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	rc := newResponseCapture(w)
	t := proxy.NewTracker()
	rl := &requestLog{endpoint: EndpointChat, client: httputil.ClientIP(r)}
	defer o.finish(r, rc, t, rl)

	if r.Method != http.MethodPost {
		fail(rc, t, proxy.NewError(proxy.KindTranslation, http.StatusMethodNotAllowed, "method not allowed", nil))
		return
	}

	release, err := o.admit(r, t, rl.client)
	if err != nil {
		fail(rc, t, err)
		return
	}
	defer release()

	var req openai.OpenAIRequest
	if err := o.decode(rc, r, &req); err != nil {
		fail(rc, t, err)
		return
	}
	rl.model, rl.stream = req.Model, req.Stream
	if err := o.checkModel(req.Model); err != nil {
		fail(rc, t, err)
		return
	}

	if req.Stream {
		rl.cache = cacheBypass
		o.stream(r.Context(), rc, t, &req)
		return
	}
	o.complete(r.Context(), rc, t, rl, &req)
}

func (o *Orchestrator) stream(ctx context.Context, rc *responseCapture, t *proxy.Tracker, req *openai.OpenAIRequest) {
	streamed, err := o.engine.Stream(ctx, t, rc, req)
	if err != nil {
		if streamed {
			t.To(proxy.StateFailed)
			t.SetOutcome("failure")
			return
		}
		fail(rc, t, err)
		return
	}
	t.To(proxy.StateDone)
	t.SetOutcome("success")
}

func (o *Orchestrator) complete(ctx context.Context, rc *responseCapture, t *proxy.Tracker, rl *requestLog, req *openai.OpenAIRequest) {
	if o.cache == nil {
		rl.cache = cacheBypass
		body, err := o.generate(ctx, t, req)
		if err != nil {
			fail(rc, t, err)
			return
		}
		o.respond(rc, t, body, "")
		return
	}

	key, err := cache.Fingerprint(req.Model, req.CacheKeyPayload(o.cfg.TailMessages))
	if err != nil {
		fail(rc, t, proxy.NewError(proxy.KindInternal, http.StatusInternalServerError, "failed to fingerprint request", err))
		return
	}
	t.To(proxy.StateCacheChecked)

	res := o.cache.Fetch(key)
	switch res.Outcome {
	case cache.Hit:
		rl.cache = cacheHit
		t.To(proxy.StateCacheHit)
		o.respond(rc, t, res.Body, "HIT")
		return

	case cache.Attached:
		rl.cache = cacheCoalesced
		body, err := res.Claim.Wait(ctx)
		if err != nil {
			fail(rc, t, err)
			return
		}
		o.respond(rc, t, body, "HIT")
		return

	default:
		rl.cache = cacheMiss
		body, err := o.produce(ctx, t, req, res.Claim)
		if err != nil {
			fail(rc, t, err)
			return
		}
		o.respond(rc, t, body, "MISS")
	}
}

// produce fills a claim this request owns. The upstream work runs detached
// from the caller so a client disconnect does not fail requests attached
// to the same claim; the claim is resolved exactly once whatever happens.
func (o *Orchestrator) produce(ctx context.Context, t *proxy.Tracker, req *openai.OpenAIRequest, claim *cache.Claim) ([]byte, error) {
	detached := context.WithoutCancel(ctx)
	go func() {
		var (
			body []byte
			err  error
		)
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error("Panic while producing cached response", "model", req.Model, "panic", p)
				body, err = nil, proxy.NewError(proxy.KindInternal, http.StatusInternalServerError, "internal error", nil)
			}
			o.cache.Resolve(claim, body, err)
		}()
		body, err = o.generate(detached, t, req)
	}()
	return claim.Wait(ctx)
}

func (o *Orchestrator) generate(ctx context.Context, t *proxy.Tracker, req *openai.OpenAIRequest) ([]byte, error) {
	resp, err := o.engine.Complete(ctx, t, req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, proxy.NewError(proxy.KindInternal, http.StatusInternalServerError, "failed to encode response", err)
	}
	t.To(proxy.StateCaching)
	return body, nil
}

func (o *Orchestrator) respond(rc *responseCapture, t *proxy.Tracker, body []byte, cacheHeader string) {
	t.To(proxy.StateResponding)
	if cacheHeader != "" {
		rc.Header().Set("X-Cache", cacheHeader)
	}
	writeJSON(rc, http.StatusOK, body)
	t.To(proxy.StateDone)
	t.SetOutcome("success")
}

// Embeddings serves POST .../embeddings. Embeddings are not cached.
func (o *Orchestrator) Embeddings(w http.ResponseWriter, r *http.Request) {
	rc := newResponseCapture(w)
	t := proxy.NewTracker()
	rl := &requestLog{endpoint: EndpointEmbeddings, client: httputil.ClientIP(r)}
	defer o.finish(r, rc, t, rl)

	if r.Method != http.MethodPost {
		fail(rc, t, proxy.NewError(proxy.KindTranslation, http.StatusMethodNotAllowed, "method not allowed", nil))
		return
	}

	release, err := o.admit(r, t, rl.client)
	if err != nil {
		fail(rc, t, err)
		return
	}
	defer release()

	var req openai.OpenAIEmbeddingRequest
	if err := o.decode(rc, r, &req); err != nil {
		fail(rc, t, err)
		return
	}
	rl.model = req.Model
	if err := o.checkModel(req.Model); err != nil {
		fail(rc, t, err)
		return
	}

	resp, err := o.engine.Embed(r.Context(), t, &req)
	if err != nil {
		fail(rc, t, err)
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		fail(rc, t, proxy.NewError(proxy.KindInternal, http.StatusInternalServerError, "failed to encode response", err))
		return
	}
	o.respond(rc, t, body, "")
}

// Models serves GET .../models. It passes the access check but not
// admission, since the listing is served from the catalogue cache.
func (o *Orchestrator) Models(w http.ResponseWriter, r *http.Request) {
	rc := newResponseCapture(w)
	t := proxy.NewTracker()
	rl := &requestLog{endpoint: EndpointModels, client: httputil.ClientIP(r)}
	defer o.finish(r, rc, t, rl)

	if r.Method != http.MethodGet {
		fail(rc, t, proxy.NewError(proxy.KindTranslation, http.StatusMethodNotAllowed, "method not allowed", nil))
		return
	}
	if err := o.authorize(r); err != nil {
		fail(rc, t, err)
		return
	}
	t.To(proxy.StateAdmitted)

	var list openai.ModelsResponse
	if o.models != nil {
		list = o.models.List(r.Context())
	} else {
		list = openai.ModelsResponse{Object: "list", Data: []openai.Model{}}
	}
	body, err := json.Marshal(list)
	if err != nil {
		fail(rc, t, proxy.NewError(proxy.KindInternal, http.StatusInternalServerError, "failed to encode response", err))
		return
	}
	o.respond(rc, t, body, "")
}
