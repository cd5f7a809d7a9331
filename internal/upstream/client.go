package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"github.com/mixaill76/gemini_gateway/internal/converter/gemini"
	"github.com/mixaill76/gemini_gateway/internal/httputil"
	"github.com/mixaill76/gemini_gateway/internal/keypool"
	"github.com/mixaill76/gemini_gateway/internal/logger"
	"github.com/mixaill76/gemini_gateway/internal/security"
)

const (
	maxResponseSize = 32 << 20
	maxSSELine      = 16 << 20
	maxModelPages   = 10
)

// Client is the upstream call interface used by the proxy engine.
type Client interface {
	Generate(ctx context.Context, cred keypool.Credential, model string, req *gemini.GenerateContentRequest) (*genai.GenerateContentResponse, error)
	Stream(ctx context.Context, cred keypool.Credential, model string, req *gemini.GenerateContentRequest) (Stream, error)
	Embed(ctx context.Context, cred keypool.Credential, model string, req *gemini.BatchEmbedRequest) (*gemini.BatchEmbedResponse, error)
	ListModels(ctx context.Context, cred keypool.Credential) ([]gemini.ModelInfo, error)
}

// Stream yields upstream chunks until io.EOF. Close must always be called.
type Stream interface {
	Recv() (*genai.GenerateContentResponse, error)
	Close() error
}

// TokenSource mints bearer tokens for service-account credentials.
type TokenSource interface {
	Token(ctx context.Context, name, serviceAccountJSON string) (string, error)
}

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	StreamTimeout time.Duration
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	baseURL       string
	timeout       time.Duration
	streamTimeout time.Duration
	http          *http.Client
	tokens        TokenSource
	logger        *slog.Logger
}

// New builds a client. A nil httpClient gets httputil defaults.
func New(cfg Config, httpClient *http.Client, tokens TokenSource, log *slog.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = httputil.NewHTTPClient(nil)
	}
	if log == nil {
		log = logger.Discard()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 10 * time.Minute
	}
	return &HTTPClient{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:       cfg.Timeout,
		streamTimeout: cfg.StreamTimeout,
		http:          httpClient,
		tokens:        tokens,
		logger:        log,
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, cred keypool.Credential, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode upstream request: %w", err)
		}
		if c.logger.Enabled(ctx, slog.LevelDebug) {
			c.logger.Debug("upstream request",
				"credential", cred.Name,
				"path", path,
				"body", logger.TruncateLongFields(string(raw), 500),
			)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if cred.Kind == keypool.KindServiceAccount {
		if c.tokens == nil {
			return nil, &Error{Kind: keypool.FailureAuth, Class: ClassCredential, Message: "no token source configured"}
		}
		token, err := c.tokens.Token(ctx, cred.Name, cred.ServiceAccountJSON)
		if err != nil {
			return nil, &Error{Kind: keypool.FailureAuth, Class: ClassCredential, Message: "token mint failed", Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set("x-goog-api-key", cred.APIKey)
	}
	return req, nil
}

// do sends req and returns the body of a 2xx answer.
func (c *HTTPClient) do(parent context.Context, cred keypool.Credential, req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, FromTransport(parent, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, FromTransport(parent, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ue := FromResponse(resp.StatusCode, body)
		c.logger.Debug("upstream error",
			"credential", cred.Name,
			"key", security.MaskAPIKey(cred.APIKey),
			"status", resp.StatusCode,
			"body", httputil.SafeStringPreview(body, 300),
		)
		return nil, ue
	}
	return body, nil
}

func (c *HTTPClient) Generate(ctx context.Context, cred keypool.Credential, model string, body *gemini.GenerateContentRequest) (*genai.GenerateContentResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(callCtx, cred, http.MethodPost, gemini.ModelPath(model)+":generateContent", body)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, cred, req)
	if err != nil {
		return nil, err
	}

	var out genai.GenerateContentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Kind: keypool.FailureServer, Class: ClassRetryable, Message: "malformed upstream response", Err: err}
	}
	return &out, nil
}

func (c *HTTPClient) Embed(ctx context.Context, cred keypool.Credential, model string, body *gemini.BatchEmbedRequest) (*gemini.BatchEmbedResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(callCtx, cred, http.MethodPost, gemini.ModelPath(model)+":batchEmbedContents", body)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, cred, req)
	if err != nil {
		return nil, err
	}

	var out gemini.BatchEmbedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &Error{Kind: keypool.FailureServer, Class: ClassRetryable, Message: "malformed upstream response", Err: err}
	}
	return &out, nil
}

// ListModels pages through GET models.
func (c *HTTPClient) ListModels(ctx context.Context, cred keypool.Credential) ([]gemini.ModelInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var models []gemini.ModelInfo
	token := ""
	for page := 0; page < maxModelPages; page++ {
		q := url.Values{"pageSize": {"1000"}}
		if token != "" {
			q.Set("pageToken", token)
		}
		req, err := c.newRequest(callCtx, cred, http.MethodGet, "models?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		raw, err := c.do(ctx, cred, req)
		if err != nil {
			return nil, err
		}

		var resp gemini.ListModelsResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, &Error{Kind: keypool.FailureServer, Class: ClassRetryable, Message: "malformed model list", Err: err}
		}
		models = append(models, resp.Models...)
		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}
	return models, nil
}

// Stream opens :streamGenerateContent?alt=sse. Errors before the first
// byte are classified like Generate errors.
func (c *HTTPClient) Stream(ctx context.Context, cred keypool.Credential, model string, body *gemini.GenerateContentRequest) (Stream, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.streamTimeout)

	req, err := c.newRequest(callCtx, cred, http.MethodPost, gemini.ModelPath(model)+":streamGenerateContent?alt=sse", body)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, FromTransport(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		cancel()
		return nil, FromResponse(resp.StatusCode, raw)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &sseStream{parent: ctx, body: resp.Body, scanner: scanner, cancel: cancel}, nil
}

type sseStream struct {
	parent  context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
}

func (s *sseStream) Recv() (*genai.GenerateContentResponse, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil, io.EOF
		}
		if errObj := gjson.Get(data, "error"); errObj.Exists() {
			code := int(errObj.Get("code").Int())
			if code == 0 {
				code = http.StatusInternalServerError
			}
			return nil, FromResponse(code, []byte(data))
		}

		var chunk genai.GenerateContentResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, &Error{Kind: keypool.FailureServer, Class: ClassRetryable, Message: "malformed stream chunk", Err: err}
		}
		return &chunk, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, FromTransport(s.parent, err)
	}
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	s.cancel()
	return s.body.Close()
}
