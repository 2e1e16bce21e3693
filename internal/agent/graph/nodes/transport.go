package nodes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
)

// HTTPRequest is one outbound call of an api_request node.
type HTTPRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type HTTPResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport is the outbound HTTP capability used by api_request nodes.
type Transport interface {
	Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// HTTPTransport implements Transport over net/http. Response bodies are
// capped at MaxResponseSize.
type HTTPTransport struct {
	client  *http.Client
	maxBody int64
}

func NewHTTPTransport(cfg model.APIRequestConfig) *HTTPTransport {
	return &HTTPTransport{
		client:  &http.Client{},
		maxBody: cfg.MaxResponseSize,
	}
}

func (t *HTTPTransport) Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if t.maxBody > 0 {
		reader = io.LimitReader(resp.Body, t.maxBody+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if t.maxBody > 0 && int64(len(data)) > t.maxBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", t.maxBody)
	}
	return &HTTPResponse{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
