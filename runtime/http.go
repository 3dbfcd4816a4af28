package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/strandhq/agentgate/internal/config"
	apperrors "github.com/strandhq/agentgate/internal/errors"
)

// HTTPClient invokes the agent runtime over HTTP and reads its response as
// an SSE stream. The HTTP client carries no overall timeout: streams may run
// for the platform's full streaming window and are bounded by the request
// context instead.
type HTTPClient struct {
	invokeURL string
	client    *http.Client
	creds     CredentialSource
}

func NewHTTPClient(cfg config.RuntimeConfig, creds CredentialSource) *HTTPClient {
	if creds == nil {
		creds = StaticCredentials(cfg.BearerToken)
	}
	return &HTTPClient{
		invokeURL: cfg.InvokeURL,
		creds:     creds,
		client: &http.Client{
			// Timeout stays zero: it would cap the whole stream. Connection
			// setup is bounded by the transport instead.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   cfg.ConnectTimeoutDuration(),
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: cfg.ConnectTimeoutDuration(),
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

var _ Client = (*HTTPClient)(nil)

type invokeBody struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"sessionId"`
	AppID     string `json:"appId"`
	TenantID  string `json:"tenantId"`
}

// Invoke opens the streaming call. Errors before the first byte are
// classified so the proxy can answer with a clean non-2xx status.
func (c *HTTPClient) Invoke(ctx context.Context, req InvokeRequest) (Stream, error) {
	token, err := c.creds.Scoped(ctx, req.AppID, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolving runtime credentials: %w", err)
	}

	body, err := json.Marshal(invokeBody{
		Prompt:    req.Prompt,
		SessionID: req.RuntimeSessionID,
		AppID:     req.AppID,
		TenantID:  req.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal invoke body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.invokeURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build invoke request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, apperrors.Wrapf(apperrors.ErrUpstreamUnavailable, "runtime returned %s", resp.Status)
	}

	return &sseStream{
		ctx:    ctx,
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrapf(apperrors.ErrUpstreamTimeout, "invoke call timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Wrapf(apperrors.ErrUpstreamTimeout, "invoke call timed out")
	}
	return apperrors.Wrapf(apperrors.ErrUpstreamUnavailable, "invoke call failed: %v", err)
}

// sseStream reads newline-delimited SSE events off the response body. Data
// payloads are either JSON {"delta": "..."} objects or plain text fragments.
type sseStream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

type sseChunk struct {
	Delta string `json:"delta"`
}

func (s *sseStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for {
		select {
		case <-s.ctx.Done():
			s.done = true
			return Chunk{}, s.ctx.Err()
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if err == io.EOF {
				return Chunk{}, io.EOF
			}
			if s.ctx.Err() != nil {
				return Chunk{}, s.ctx.Err()
			}
			return Chunk{}, fmt.Errorf("reading runtime stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Skip non-data SSE fields (event:, id:, retry:).
			continue
		}
		data = strings.TrimSpace(data)

		if data == "[DONE]" {
			s.done = true
			return Chunk{}, io.EOF
		}

		var parsed sseChunk
		if err := json.Unmarshal([]byte(data), &parsed); err == nil && parsed.Delta != "" {
			return Chunk{Delta: parsed.Delta}, nil
		}
		// Runtimes that emit raw text fragments pass through unchanged.
		return Chunk{Delta: data}, nil
	}
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
