package mcpwire

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPTransport sends requests via POST to a base URL and receives
// asynchronous replies and notifications by attaching to a GET endpoint at
// the same URL that streams Server-Sent Events, each "data: {...}" line
// decoded as one JSON-RPC message.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	reader     *lineReader
	cancelSSE  context.CancelFunc
}

// DialHTTP opens the SSE stream at url and returns a transport ready to
// send and receive. The SSE connection runs until ctx is canceled or
// Close is called. headers is applied to every subsequent POST and to the
// SSE GET request (e.g. Authorization for a secured endpoint).
func DialHTTP(ctx context.Context, url string, headers map[string]string, httpClient *http.Client) (*HTTPTransport, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	sseCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(sseCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("mcpwire: build SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("mcpwire: open SSE stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("mcpwire: SSE stream returned status %d", resp.StatusCode)
	}

	lr := newLineReader()
	go func() {
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if !json.Valid([]byte(payload)) {
				continue
			}
			lr.out <- json.RawMessage(payload)
		}
		lr.finish(scanner.Err())
	}()

	return &HTTPTransport{url: url, headers: headers, httpClient: httpClient, reader: lr, cancelSSE: cancel}, nil
}

// Send POSTs raw as the request body. A non-200 response aborts the
// request with an error; the reply itself (if any) arrives later over the
// SSE stream, matched by id.
func (t *HTTPTransport) Send(raw json.RawMessage) error {
	req, err := http.NewRequest(http.MethodPost, t.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("mcpwire: build POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mcpwire: POST request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcpwire: POST returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) Incoming() <-chan json.RawMessage { return t.reader.Incoming() }

func (t *HTTPTransport) Err() error { return t.reader.Err() }

func (t *HTTPTransport) Close() error {
	t.cancelSSE()
	return nil
}
