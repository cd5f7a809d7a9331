package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/config"
	"github.com/mixaill76/gemini_gateway/internal/converter/gemini"
	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/logger"
	"github.com/mixaill76/gemini_gateway/internal/monitoring"
	"github.com/mixaill76/gemini_gateway/internal/upstream"
)

// CredentialPool is the part of keypool.Pool the engine needs.
type CredentialPool interface {
	AcquireExcluding(exclude map[string]bool) (keypool.Credential, error)
	RecordSuccess(name string)
	RecordFailure(name string, kind keypool.FailureKind)
	Release(name string)
}

type Config struct {
	MaxAttempts int
	Jitter      time.Duration

	// StreamMode is config.StreamModeReal or config.StreamModeSimulated.
	StreamMode        string
	ChunkSize         int
	ChunkInterval     time.Duration
	KeepaliveInterval time.Duration

	DisableSafety bool
	// SearchModels enables the "-search" model aliases.
	SearchModels bool
}

// Engine is shared by all requests.
type Engine struct {
	pool    CredentialPool
	client  upstream.Client
	cfg     Config
	metrics *monitoring.Metrics
	logger  *slog.Logger
}

func New(pool CredentialPool, client upstream.Client, cfg Config, metrics *monitoring.Metrics, log *slog.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.StreamMode == "" {
		cfg.StreamMode = config.StreamModeReal
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	return &Engine{
		pool:    pool,
		client:  client,
		cfg:     cfg,
		metrics: metrics,
		logger:  log,
	}
}

// StreamMode reports how streams are delivered.
func (e *Engine) StreamMode() string {
	return e.cfg.StreamMode
}

// prepared is a request translated for upstream.
type prepared struct {
	model    string
	upstream string
	body     *gemini.GenerateContentRequest
}

func (e *Engine) prepare(req *openai.OpenAIRequest) (*prepared, error) {
	if req.Model == "" {
		return nil, NewError(KindTranslation, http.StatusBadRequest, "model is required", nil)
	}
	model, search := req.Model, false
	if e.cfg.SearchModels {
		model, search = gemini.SplitSearchModel(req.Model)
	}

	body, warnings, err := gemini.ToGemini(req, gemini.Options{
		DisableSafety: e.cfg.DisableSafety,
		GoogleSearch:  search,
	})
	if err != nil {
		return nil, AsError(err)
	}
	for _, w := range warnings {
		e.logger.Warn("Request field dropped", "model", req.Model, "warning", w)
	}
	return &prepared{model: req.Model, upstream: model, body: body}, nil
}

// Complete performs a blocking chat completion with failover.
func (e *Engine) Complete(ctx context.Context, t *Tracker, req *openai.OpenAIRequest) (*openai.OpenAIResponse, error) {
	p, err := e.prepare(req)
	if err != nil {
		return nil, err
	}

	t.To(StateDispatching)
	var resp *genai.GenerateContentResponse
	_, err = e.dispatch(ctx, t, false, func(ctx context.Context, cred keypool.Credential) error {
		var callErr error
		resp, callErr = e.client.Generate(ctx, cred, p.upstream, p.body)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return gemini.ToOpenAI(resp, p.model, gemini.NewCompletionID()), nil
}

// Embed maps an embeddings request to a batch embed call with failover.
func (e *Engine) Embed(ctx context.Context, t *Tracker, req *openai.OpenAIEmbeddingRequest) (*openai.OpenAIEmbeddingResponse, error) {
	if req.Model == "" {
		return nil, NewError(KindTranslation, http.StatusBadRequest, "model is required", nil)
	}
	body, err := gemini.ToBatchEmbed(req)
	if err != nil {
		return nil, AsError(err)
	}

	t.To(StateDispatching)
	var resp *gemini.BatchEmbedResponse
	_, err = e.dispatch(ctx, t, false, func(ctx context.Context, cred keypool.Credential) error {
		var callErr error
		resp, callErr = e.client.Embed(ctx, cred, req.Model, body)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	out, err := gemini.FromBatchEmbed(resp, req.Model, len(body.Requests))
	if err != nil {
		return nil, NewError(KindUpstreamFatal, http.StatusBadGateway, err.Error(), err)
	}
	return out, nil
}

// ListModels fetches the upstream model catalogue with failover.
func (e *Engine) ListModels(ctx context.Context) ([]gemini.ModelInfo, error) {
	var models []gemini.ModelInfo
	_, err := e.dispatch(ctx, nil, false, func(ctx context.Context, cred keypool.Credential) error {
		var callErr error
		models, callErr = e.client.ListModels(ctx, cred)
		return callErr
	})
	return models, err
}

// Stream delivers a chat completion as server-sent events. When the
// returned error is non-nil and streamed is false nothing was written and
// the caller reports the error; otherwise the error was already sent
// inside the stream.
func (e *Engine) Stream(ctx context.Context, t *Tracker, w http.ResponseWriter, req *openai.OpenAIRequest) (streamed bool, err error) {
	sse := newSSEWriter(w, e.logger)
	if e.cfg.StreamMode == config.StreamModeSimulated {
		err = e.simulate(ctx, t, sse, req)
	} else {
		err = e.streamReal(ctx, t, sse, req)
	}
	return sse.Started(), err
}

type streamEvent struct {
	chunk *openai.OpenAIStreamingChunk
	err   error
}

// streamReal opens an upstream stream, failing over only until it opens,
// then forwards each upstream chunk as one event. A producer goroutine owns
// the upstream stream and settles the credential when it ends.
func (e *Engine) streamReal(ctx context.Context, t *Tracker, sse *sseWriter, req *openai.OpenAIRequest) error {
	p, err := e.prepare(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.To(StateDispatching)
	var stream upstream.Stream
	cred, err := e.dispatch(ctx, t, true, func(ctx context.Context, cred keypool.Credential) error {
		var callErr error
		stream, callErr = e.client.Stream(ctx, cred, p.upstream, p.body)
		return callErr
	})
	if err != nil {
		return err
	}
	t.To(StateResponding)

	conv := gemini.NewStreamConverter(p.model)
	events := make(chan streamEvent)
	go func() {
		defer close(events)
		defer func() { _ = stream.Close() }()

		send := func(ev streamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				e.settle(cred, nil)
				send(streamEvent{chunk: conv.Finish()})
				return
			}
			if err != nil {
				e.settle(cred, err)
				send(streamEvent{err: err})
				return
			}
			if ch := conv.Convert(resp); ch != nil {
				if !send(streamEvent{chunk: ch}) {
					e.settle(cred, ctx.Err())
					return
				}
			}
		}
	}()

	var streamErr error
	for ev := range events {
		if ev.err != nil {
			streamErr = AsError(ev.err)
			e.logger.Warn("Upstream stream failed", "model", p.model, "error", ev.err)
			sse.Fail(streamErr)
			break
		}
		if werr := sse.Event(ev.chunk); werr != nil {
			streamErr = AsError(context.Canceled)
			cancel()
			break
		}
	}
	// let the producer observe cancellation and exit
	cancel()
	for range events {
	}

	if streamErr != nil {
		return streamErr
	}
	return sse.Done()
}
