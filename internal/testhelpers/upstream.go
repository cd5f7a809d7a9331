package testhelpers

import (
	"context"
	"io"
	"sync"

	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/converter/gemini"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/upstream"
)

// FakeUpstream implements upstream.Client with per-test hooks. Unset hooks
// answer with a fixed text reply.
type FakeUpstream struct {
	GenerateFunc func(ctx context.Context, cred keypool.Credential, model string) (*genai.GenerateContentResponse, error)
	StreamFunc   func(ctx context.Context, cred keypool.Credential, model string) (upstream.Stream, error)
	EmbedFunc    func(ctx context.Context, cred keypool.Credential, req *gemini.BatchEmbedRequest) (*gemini.BatchEmbedResponse, error)
	ModelsFunc   func(ctx context.Context, cred keypool.Credential) ([]gemini.ModelInfo, error)

	mu       sync.Mutex
	calls    []string
	requests []*gemini.GenerateContentRequest
}

func (f *FakeUpstream) record(cred keypool.Credential, req *gemini.GenerateContentRequest) {
	f.mu.Lock()
	f.calls = append(f.calls, cred.Name)
	if req != nil {
		f.requests = append(f.requests, req)
	}
	f.mu.Unlock()
}

// Calls returns the credential name of every upstream call, in order.
func (f *FakeUpstream) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Requests returns every generate or stream body received.
func (f *FakeUpstream) Requests() []*gemini.GenerateContentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*gemini.GenerateContentRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *FakeUpstream) Generate(ctx context.Context, cred keypool.Credential, model string, req *gemini.GenerateContentRequest) (*genai.GenerateContentResponse, error) {
	f.record(cred, req)
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, cred, model)
	}
	return TextResponse("ok"), nil
}

func (f *FakeUpstream) Stream(ctx context.Context, cred keypool.Credential, model string, req *gemini.GenerateContentRequest) (upstream.Stream, error) {
	f.record(cred, req)
	if f.StreamFunc != nil {
		return f.StreamFunc(ctx, cred, model)
	}
	return NewFakeStream(TextResponse("ok")), nil
}

func (f *FakeUpstream) Embed(ctx context.Context, cred keypool.Credential, model string, req *gemini.BatchEmbedRequest) (*gemini.BatchEmbedResponse, error) {
	f.record(cred, nil)
	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, cred, req)
	}
	out := &gemini.BatchEmbedResponse{}
	for range req.Requests {
		out.Embeddings = append(out.Embeddings, gemini.ContentEmbedding{Values: []float32{0.5, 0.25}})
	}
	return out, nil
}

func (f *FakeUpstream) ListModels(ctx context.Context, cred keypool.Credential) ([]gemini.ModelInfo, error) {
	f.record(cred, nil)
	if f.ModelsFunc != nil {
		return f.ModelsFunc(ctx, cred)
	}
	return []gemini.ModelInfo{{Name: "models/gemini-2.5-flash"}}, nil
}

// TextResponse builds a one-candidate response with the given text.
func TextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     3,
			CandidatesTokenCount: 2,
			TotalTokenCount:      5,
		},
	}
}

// FakeStream replays chunks, then returns End (io.EOF when nil).
type FakeStream struct {
	Chunks []*genai.GenerateContentResponse
	End    error

	mu     sync.Mutex
	pos    int
	closed bool
}

func NewFakeStream(chunks ...*genai.GenerateContentResponse) *FakeStream {
	return &FakeStream{Chunks: chunks}
}

func (s *FakeStream) Recv() (*genai.GenerateContentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, context.Canceled
	}
	if s.pos < len(s.Chunks) {
		ch := s.Chunks[s.pos]
		s.pos++
		return ch, nil
	}
	if s.End != nil {
		return nil, s.End
	}
	return nil, io.EOF
}

func (s *FakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
