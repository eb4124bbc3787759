package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPTransport posts saga requests as JSON to <baseURL>/saga/<step>.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates a transport for the ledger service at baseURL.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send delivers req. Transport failures and 5xx answers without a
// protocol body are returned as errors so the saga may retry them.
func (t *HTTPTransport) Send(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s request: %w", req.Step, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/saga/"+string(req.Step), bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Order-Id", req.OrderID)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read %s response: %w", req.Step, err)
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil || out.Status == "" {
		if resp.StatusCode >= 500 {
			return Response{}, fmt.Errorf("ledger %s answered %d", req.Step, resp.StatusCode)
		}
		return Response{Status: StatusFailed, Critical: true, Message: fmt.Sprintf(
			"unexpected ledger answer %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}, nil
	}
	return out, nil
}
