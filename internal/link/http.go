package link

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bassista/go_learn/internal/logger"
	"github.com/bassista/go_learn/internal/operation"
)

// maxErrorBody bounds the body kept on a TransportError.
const maxErrorBody = 2048

// HTTPLink posts operations to a GraphQL endpoint as JSON.
type HTTPLink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPLink returns a terminating link for endpoint. A nil client means
// http.DefaultClient; timeouts belong to the client, not the link.
func NewHTTPLink(endpoint string, client *http.Client) *HTTPLink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLink{endpoint: endpoint, client: client}
}

func (l *HTTPLink) Request(ctx context.Context, op *operation.Operation) *Stream {
	resp, err := l.do(ctx, op)
	return Single(resp, err)
}

func (l *HTTPLink) do(ctx context.Context, op *operation.Operation) (*Response, error) {
	name := op.Name()
	body, err := json.Marshal(op.Payload())
	if err != nil {
		return nil, &TransportError{Operation: name, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Operation: name, Err: fmt.Errorf("build request: %w", err)}
	}
	for k, vs := range op.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/graphql-response+json, application/json")

	logger.WithComponent("http").Debugf("POST %s %s (%s)", l.endpoint, name, op.Kind())

	httpResp, err := l.client.Do(req)
	if err != nil {
		return nil, &TransportError{Operation: name, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Operation: name, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet := raw
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		terr := &TransportError{
			Operation:  name,
			StatusCode: httpResp.StatusCode,
			Body:       string(snippet),
			Err:        errors.New(http.StatusText(httpResp.StatusCode)),
		}
		var envelope Response
		if json.Unmarshal(raw, &envelope) == nil {
			terr.Errors = envelope.Errors
		}
		return nil, terr
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Operation: name, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &resp, nil
}
