package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/config"
	"github.com/mixaill76/gemini_gateway/internal/converter/gemini"
	"github.com/mixaill76/gemini_gateway/internal/converter/openai"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/monitoring"
	"github.com/mixaill76/gemini_gateway/internal/ratelimit"
	"github.com/mixaill76/gemini_gateway/internal/testhelpers"
	"github.com/mixaill76/gemini_gateway/internal/upstream"
)

func chatRequest(text string) *openai.OpenAIRequest {
	return &openai.OpenAIRequest{
		Model:    "gemini-2.5-flash",
		Messages: []openai.OpenAIMessage{{Role: "user", Content: openai.TextContent(text)}},
	}
}

func newTestEngine(pool CredentialPool, client upstream.Client, cfg Config) *Engine {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	return New(pool, client, cfg, monitoring.New(false), testhelpers.NewTestLogger())
}

func statusOf(pool *keypool.Pool, name string) keypool.CredentialStatus {
	for _, s := range pool.Status() {
		if s.Name == name {
			return s
		}
	}
	return keypool.CredentialStatus{}
}

func TestComplete_Success(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			assert.Equal(t, "gemini-2.5-flash", model)
			return testhelpers.TextResponse("hi there"), nil
		},
	}
	engine := newTestEngine(pool, fake, Config{})
	tr := NewTracker()
	tr.To(StateAdmitted)

	resp, err := engine.Complete(context.Background(), tr, chatRequest("hello"))
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "hi there", *resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)

	assert.Equal(t, 1, tr.Attempts())
	assert.Equal(t, "a", tr.Credential())
	s := statusOf(pool, "a")
	assert.Equal(t, 1, s.MinuteCount)
	assert.Equal(t, 0, s.InFlight)
}

func TestComplete_FailoverPutsFailingCredentialIntoCooldown(t *testing.T) {
	pool := testhelpers.NewTestPool("a", "b")
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			if cred.Name == "a" {
				return nil, upstream.FromResponse(http.StatusServiceUnavailable, []byte(`{"error":{"message":"overloaded"}}`))
			}
			return testhelpers.TextResponse("ok"), nil
		},
	}
	engine := newTestEngine(pool, fake, Config{MaxAttempts: 2})

	for i := 0; i < 3; i++ {
		_, err := engine.Complete(context.Background(), NewTracker(), chatRequest("q"))
		require.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, keypool.Cooldown, statusOf(pool, "a").Health)

	_, err := engine.Complete(context.Background(), NewTracker(), chatRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b", "b"}, fake.Calls())
}

func TestComplete_CredentialErrorDisablesAndMovesOn(t *testing.T) {
	pool := testhelpers.NewTestPool("a", "b")
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			if cred.Name == "a" {
				return nil, upstream.FromResponse(http.StatusForbidden, nil)
			}
			return testhelpers.TextResponse("ok"), nil
		},
	}
	engine := newTestEngine(pool, fake, Config{})

	_, err := engine.Complete(context.Background(), NewTracker(), chatRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, keypool.Disabled, statusOf(pool, "a").Health)
	assert.Equal(t, keypool.Healthy, statusOf(pool, "b").Health)
}

func TestComplete_FatalErrorIsNotRetried(t *testing.T) {
	pool := testhelpers.NewTestPool("a", "b")
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			return nil, upstream.FromResponse(http.StatusBadRequest,
				[]byte(`{"error":{"code":400,"message":"Invalid JSON payload","status":"INVALID_ARGUMENT"}}`))
		},
	}
	engine := newTestEngine(pool, fake, Config{})

	_, err := engine.Complete(context.Background(), NewTracker(), chatRequest("q"))
	require.Error(t, err)
	pe := AsError(err)
	assert.Equal(t, KindUpstreamFatal, pe.Kind)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
	assert.Equal(t, "Invalid JSON payload", pe.Message)
	assert.Len(t, fake.Calls(), 1)
	assert.Equal(t, keypool.Healthy, statusOf(pool, "a").Health)
}

func TestComplete_RetriesExhausted(t *testing.T) {
	pool := testhelpers.NewTestPool("a", "b", "c")
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			return nil, upstream.FromResponse(http.StatusInternalServerError, nil)
		},
	}
	engine := newTestEngine(pool, fake, Config{MaxAttempts: 2})
	tr := NewTracker()
	tr.To(StateAdmitted)

	_, err := engine.Complete(context.Background(), tr, chatRequest("q"))
	pe := AsError(err)
	assert.Equal(t, KindUpstreamRetryable, pe.Kind)
	assert.Equal(t, http.StatusBadGateway, pe.Status)
	assert.Contains(t, pe.Message, "after 2 attempts")
	assert.NotContains(t, pe.Message, "AIza")
	assert.Equal(t, 2, tr.Attempts())
	assert.Contains(t, tr.History(), StateRetrying)
	assert.NoError(t, tr.Err())
}

func TestComplete_PoolRunsDryMidRetryReportsLastUpstreamError(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			return nil, upstream.FromResponse(http.StatusGatewayTimeout, nil)
		},
	}
	engine := newTestEngine(pool, fake, Config{MaxAttempts: 5})

	_, err := engine.Complete(context.Background(), NewTracker(), chatRequest("q"))
	pe := AsError(err)
	assert.Equal(t, KindUpstreamRetryable, pe.Kind)
	assert.Equal(t, http.StatusGatewayTimeout, pe.Status)
	assert.Len(t, fake.Calls(), 1)
}

func TestComplete_PoolExhausted(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	require.NoError(t, pool.Disable("a"))
	fake := &testhelpers.FakeUpstream{}
	engine := newTestEngine(pool, fake, Config{})

	_, err := engine.Complete(context.Background(), NewTracker(), chatRequest("q"))
	pe := AsError(err)
	assert.Equal(t, KindPoolExhausted, pe.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, pe.Status)
	assert.Empty(t, fake.Calls())
}

func TestComplete_TranslationError(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	fake := &testhelpers.FakeUpstream{}
	engine := newTestEngine(pool, fake, Config{})

	_, err := engine.Complete(context.Background(), NewTracker(), &openai.OpenAIRequest{Model: "gemini-2.5-flash"})
	pe := AsError(err)
	assert.Equal(t, KindTranslation, pe.Kind)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
	assert.Empty(t, fake.Calls())
}

func TestComplete_CancellationReleasesCredential(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			return nil, context.Canceled
		},
	}
	engine := newTestEngine(pool, fake, Config{})

	_, err := engine.Complete(context.Background(), NewTracker(), chatRequest("q"))
	pe := AsError(err)
	assert.Equal(t, KindCanceled, pe.Kind)

	s := statusOf(pool, "a")
	assert.Equal(t, 0, s.InFlight)
	assert.Equal(t, 0, s.MinuteCount)
	assert.Equal(t, keypool.Healthy, s.Health)
}

func TestComplete_SearchModelAlias(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	var gotModel string
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			gotModel = model
			return testhelpers.TextResponse("ok"), nil
		},
	}
	engine := newTestEngine(pool, fake, Config{SearchModels: true})

	req := chatRequest("news")
	req.Model = "gemini-2.5-flash-search"
	resp, err := engine.Complete(context.Background(), NewTracker(), req)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", gotModel)
	assert.Equal(t, "gemini-2.5-flash-search", resp.Model)

	sent := fake.Requests()
	require.Len(t, sent, 1)
	require.NotEmpty(t, sent[0].Tools)
	assert.NotNil(t, sent[0].Tools[len(sent[0].Tools)-1].GoogleSearch)
}

// Three credentials with one request per minute each: three concurrent
// requests land on three different credentials and a fourth finds the pool
// exhausted.
func TestComplete_ConcurrentRequestsSpreadAcrossCredentials(t *testing.T) {
	creds := []keypool.Credential{
		{Name: "a", APIKey: "ka", RPM: 1},
		{Name: "b", APIKey: "kb", RPM: 1},
		{Name: "c", APIKey: "kc", RPM: 1},
	}
	pool, err := keypool.New(creds, keypool.Config{}, testhelpers.NewTestLogger())
	require.NoError(t, err)

	entered := make(chan string, 3)
	release := make(chan struct{})
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			entered <- cred.Name
			<-release
			return testhelpers.TextResponse("ok"), nil
		},
	}
	engine := newTestEngine(pool, fake, Config{})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Complete(context.Background(), NewTracker(), chatRequest("distinct "+string(rune('a'+i))))
		}(i)
	}

	used := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case name := <-entered:
			used[name] = true
		case <-time.After(2 * time.Second):
			t.Fatal("upstream calls did not start")
		}
	}
	assert.Len(t, used, 3)

	_, err = engine.Complete(context.Background(), NewTracker(), chatRequest("fourth"))
	assert.Equal(t, KindPoolExhausted, AsError(err).Kind)

	close(release)
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestEmbed(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	fake := &testhelpers.FakeUpstream{}
	engine := newTestEngine(pool, fake, Config{})

	resp, err := engine.Embed(context.Background(), NewTracker(), &openai.OpenAIEmbeddingRequest{
		Model: "text-embedding-004",
		Input: []interface{}{"one", "two"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, []float64{0.5, 0.25}, resp.Data[1].Embedding)
	assert.Equal(t, 1, resp.Data[1].Index)
}

func TestEmbed_MismatchedCount(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	fake := &testhelpers.FakeUpstream{}
	fake.EmbedFunc = func(ctx context.Context, cred keypool.Credential, req *gemini.BatchEmbedRequest) (*gemini.BatchEmbedResponse, error) {
		return &gemini.BatchEmbedResponse{}, nil
	}
	engine := newTestEngine(pool, fake, Config{})

	_, err := engine.Embed(context.Background(), NewTracker(), &openai.OpenAIEmbeddingRequest{Model: "m", Input: "x"})
	assert.Equal(t, KindUpstreamFatal, AsError(err).Kind)
}

func TestListModels(t *testing.T) {
	pool := testhelpers.NewTestPool("a", "b")
	fake := &testhelpers.FakeUpstream{
		ModelsFunc: func(ctx context.Context, cred keypool.Credential) ([]gemini.ModelInfo, error) {
			if cred.Name == "a" {
				return nil, upstream.FromResponse(http.StatusInternalServerError, nil)
			}
			return []gemini.ModelInfo{{Name: "models/gemini-2.5-pro"}}, nil
		},
	}
	engine := newTestEngine(pool, fake, Config{})

	models, err := engine.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "models/gemini-2.5-pro", models[0].Name)
}

func decodeChunks(t *testing.T, data []string) []openai.OpenAIStreamingChunk {
	t.Helper()
	out := make([]openai.OpenAIStreamingChunk, 0, len(data))
	for _, d := range data {
		var ch openai.OpenAIStreamingChunk
		require.NoError(t, json.Unmarshal([]byte(d), &ch), d)
		out = append(out, ch)
	}
	return out
}

func TestStream_SimulatedHelloWorld(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			return testhelpers.TextResponse("hello world"), nil
		},
	}
	engine := newTestEngine(pool, fake, Config{
		StreamMode:    config.StreamModeSimulated,
		ChunkSize:     5,
		ChunkInterval: time.Millisecond,
	})

	rec := httptest.NewRecorder()
	streamed, err := engine.Stream(context.Background(), NewTracker(), rec, chatRequest("hi"))
	require.NoError(t, err)
	assert.True(t, streamed)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	sse := testhelpers.ParseSSE(rec.Body.String())
	assert.True(t, sse.Done)
	chunks := decodeChunks(t, sse.Data)
	require.Len(t, chunks, 3)

	assert.Equal(t, "hello", chunks[0].Choices[0].Delta.Content)
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, " world", chunks[1].Choices[0].Delta.Content)
	assert.Nil(t, chunks[1].Choices[0].FinishReason)

	last := chunks[2]
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, "stop", *last.Choices[0].FinishReason)
	assert.Empty(t, last.Choices[0].Delta.Content)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 5, last.Usage.TotalTokens)

	assert.Equal(t, chunks[0].ID, last.ID)
}

func TestStream_SimulatedKeepalive(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	fake := &testhelpers.FakeUpstream{
		GenerateFunc: func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error) {
			time.Sleep(80 * time.Millisecond)
			return testhelpers.TextResponse("done"), nil
		},
	}
	engine := newTestEngine(pool, fake, Config{
		StreamMode:        config.StreamModeSimulated,
		KeepaliveInterval: 10 * time.Millisecond,
	})

	rec := httptest.NewRecorder()
	_, err := engine.Stream(context.Background(), NewTracker(), rec, chatRequest("hi"))
	require.NoError(t, err)

	sse := testhelpers.ParseSSE(rec.Body.String())
	assert.Contains(t, sse.Comments, "keepalive")
	assert.True(t, sse.Done)
}

func TestStream_SimulatedErrorBeforeOutputIsNotStreamed(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	require.NoError(t, pool.Disable("a"))
	engine := newTestEngine(pool, &testhelpers.FakeUpstream{}, Config{StreamMode: config.StreamModeSimulated})

	rec := httptest.NewRecorder()
	streamed, err := engine.Stream(context.Background(), NewTracker(), rec, chatRequest("hi"))
	assert.False(t, streamed)
	assert.Equal(t, KindPoolExhausted, AsError(err).Kind)
	assert.Empty(t, rec.Body.String())
}

func TestStream_RealForwardsChunks(t *testing.T) {
	pool := testhelpers.NewTestPool("a")
	stream := testhelpers.NewFakeStream(
		testhelpers.TextResponse("Hel"),
		testhelpers.TextResponse("lo"),
	)
	fake := &testhelpers.FakeUpstream{
		StreamFunc: func(ctx context.Context, cred keypool.Credential, model string) (upstream.Stream, error) {
			return stream, nil
		},
	}
	engine := newTestEngine(pool, fake, Config{StreamMode: config.StreamModeReal})
	tr := NewTracker()
	tr.To(StateAdmitted)

	rec := httptest.NewRecorder()
	streamed, err := engine.Stream(context.Background(), tr, rec, chatRequest("hi"))
	require.NoError(t, err)
	assert.True(t, streamed)

	sse := testhelpers.ParseSSE(rec.Body.String())
	assert.True(t, sse.Done)
	chunks := decodeChunks(t, sse.Data)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Choices[0].Delta.Content)
	assert.Equal(t, "lo", chunks[1].Choices[0].Delta.Content)
	require.NotNil(t, chunks[2].Choices[0].FinishReason)
	assert.Equal(t, "stop", *chunks[2].Choices[0].FinishReason)

	assert.True(t, stream.Closed())
	s := statusOf(pool, "a")
	assert.Equal(t, 1, s.MinuteCount)
	assert.Equal(t, 0, s.InFlight)
	assert.Equal(t, StateResponding, tr.State())
}

func TestStream_RealFailsOverBeforeOpen(t *testing.T) {
	pool := testhelpers.NewTestPool("a", "b")
	fake := &testhelpers.FakeUpstream{
		StreamFunc: func(ctx context.Context, cred keypool.Credential, model string) (upstream.Stream, error) {
			if cred.Name == "a" {
				return nil, upstream.FromResponse(http.StatusTooManyRequests, nil)
			}
			return testhelpers.NewFakeStream(testhelpers.TextResponse("ok")), nil
		},
	}
	engine := newTestEngine(pool, fake, Config{})

	rec := httptest.NewRecorder()
	_, err := engine.Stream(context.Background(), NewTracker(), rec, chatRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, fake.Calls())
	assert.Equal(t, keypool.FailureRateLimited, statusOf(pool, "a").LastFailure)
}

func TestStream_RealMidStreamErrorIsReportedInStream(t *testing.T) {
	pool := testhelpers.NewTestPool("a", "b")
	stream := testhelpers.NewFakeStream(testhelpers.TextResponse("partial"))
	stream.End = upstream.FromResponse(http.StatusInternalServerError, nil)
	fake := &testhelpers.FakeUpstream{
		StreamFunc: func(ctx context.Context, cred keypool.Credential, model string) (upstream.Stream, error) {
			return stream, nil
		},
	}
	engine := newTestEngine(pool, fake, Config{})

	rec := httptest.NewRecorder()
	streamed, err := engine.Stream(context.Background(), NewTracker(), rec, chatRequest("hi"))
	assert.True(t, streamed)
	assert.Equal(t, KindUpstreamRetryable, AsError(err).Kind)

	sse := testhelpers.ParseSSE(rec.Body.String())
	require.Len(t, sse.Data, 2)
	assert.Contains(t, sse.Data[0], "partial")
	assert.Contains(t, sse.Data[1], `"code":"upstream_unavailable"`)
	assert.True(t, sse.Done)
	assert.Len(t, fake.Calls(), 1, "no failover once the stream is open")
	assert.Equal(t, keypool.FailureServer, statusOf(pool, "a").LastFailure)
}

func TestStream_RealPoolExhaustedBeforeOpen(t *testing.T) {
	pool := testhelpers.NewTestPool()
	engine := newTestEngine(pool, &testhelpers.FakeUpstream{}, Config{})

	rec := httptest.NewRecorder()
	streamed, err := engine.Stream(context.Background(), NewTracker(), rec, chatRequest("hi"))
	assert.False(t, streamed)
	assert.Equal(t, KindPoolExhausted, AsError(err).Kind)
	assert.Zero(t, rec.Body.Len())
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		size int
		want []string
	}{
		{"empty", "", 5, nil},
		{"two words", "hello world", 5, []string{"hello", " world"}},
		{"grouped", "a b c d e f", 4, []string{"a b c", " d e", " f"}},
		{"one chunk", "hello world", 20, []string{"hello world"}},
		{"trailing space", "hi there ", 2, []string{"hi", " there", " "}},
		{"long word kept", "abcdefghijkl", 3, []string{"abcdefghijkl"}},
		{"no spaces", strings.Repeat("x", 45), 10, []string{
			strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 10), "xxxxx",
		}},
		{"unicode", "привет мир", 6, []string{"привет", " мир"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitChunks(tt.in, tt.size)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, strings.Join(got, ""))
		})
	}
}

func TestSimulatedChunks_ReasoningAndTools(t *testing.T) {
	engine := newTestEngine(testhelpers.NewTestPool(), &testhelpers.FakeUpstream{}, Config{ChunkSize: 100})
	content := "answer"
	resp := &openai.OpenAIResponse{
		Model: "m",
		Choices: []openai.OpenAIChoice{{
			Message: openai.OpenAIResponseMessage{
				Role:             "assistant",
				Content:          &content,
				ReasoningContent: "thinking",
				ToolCalls: []openai.OpenAIToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: openai.OpenAIToolFunction{Name: "f", Arguments: "{}"},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}

	chunks := engine.simulatedChunks(resp)
	require.Len(t, chunks, 4)
	assert.Equal(t, "thinking", chunks[0].Choices[0].Delta.ReasoningContent)
	assert.Equal(t, "answer", chunks[1].Choices[0].Delta.Content)
	require.Len(t, chunks[2].Choices[0].Delta.ToolCalls, 1)
	assert.Equal(t, "call_1", chunks[2].Choices[0].Delta.ToolCalls[0].ID)
	assert.Equal(t, "tool_calls", *chunks[3].Choices[0].FinishReason)
}

func TestAsError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"rejected", &ratelimit.RejectedError{Reason: ratelimit.ReasonClientRPM}, KindAdmissionRejected, http.StatusTooManyRequests},
		{"exhausted", keypool.ErrPoolExhausted, KindPoolExhausted, http.StatusServiceUnavailable},
		{"translation", fmt.Errorf("wrap: %w", gemini.ErrTranslation), KindTranslation, http.StatusBadRequest},
		{"canceled", context.Canceled, KindCanceled, StatusClientClosedRequest},
		{"deadline", context.DeadlineExceeded, KindUpstreamRetryable, http.StatusGatewayTimeout},
		{"upstream 404", upstream.FromResponse(http.StatusNotFound, nil), KindUpstreamFatal, http.StatusNotFound},
		{"upstream 401", upstream.FromResponse(http.StatusUnauthorized, nil), KindUpstreamFatal, http.StatusBadGateway},
		{"upstream 503", upstream.FromResponse(http.StatusServiceUnavailable, nil), KindUpstreamRetryable, http.StatusBadGateway},
		{"unknown", errors.New("boom"), KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := AsError(tt.err)
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, tt.status, pe.Status)
			assert.ErrorIs(t, pe, tt.err)
		})
	}
	assert.Nil(t, AsError(nil))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &ratelimit.RejectedError{Reason: ratelimit.ReasonGlobalRPM})

	resp := testhelpers.AssertErrorCode(t, rec, http.StatusTooManyRequests, "rate_limited")
	assert.Equal(t, "rate_limit_error", resp.Error.Type)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, resp.Error.Message, "global_rpm")
}

func TestWriteError_TranslationStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewError(KindTranslation, http.StatusBadRequest, "invalid JSON body", nil))
	testhelpers.AssertJSONErrorResponse(t, rec, http.StatusBadRequest, "invalid_request_error", "invalid JSON body")
}
