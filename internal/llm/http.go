package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient forwards requests to a generation endpoint speaking JSON, SSE or NDJSON.
type HTTPClient struct {
	url    string
	client *http.Client
	strict bool
}

type httpRequest struct {
	Request
	Stream bool `json:"stream"`
}

func NewHTTPClient(url string, timeout time.Duration, strict bool) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
		strict: strict,
	}
}

func (c *HTTPClient) Generate(ctx context.Context, req Request) (string, error) {
	return c.do(ctx, req, false, nil)
}

func (c *HTTPClient) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error) {
	return c.do(ctx, req, true, onDelta)
}

func (c *HTTPClient) do(ctx context.Context, req Request, stream bool, onDelta DeltaHandler) (string, error) {
	payload, err := json.Marshal(httpRequest{Request: req, Stream: stream})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", &Error{Provider: "http", Err: fmt.Errorf("send request: %w", err)}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &Error{Provider: "http", Status: res.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return c.consumeSSE(res.Body, onDelta)
	case strings.Contains(ct, "application/x-ndjson"):
		return c.consumeNDJSON(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &Error{Provider: "http", Err: fmt.Errorf("read response: %w", err)}
	}

	var obj map[string]any
	text := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &obj); err == nil {
		text = extractText(obj)
	}
	if text == "" {
		return "", &Error{Provider: "http", Message: "empty response"}
	}
	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return text, err
		}
	}
	return text, nil
}

func (c *HTTPClient) consumeSSE(body io.Reader, onDelta DeltaHandler) (string, error) {
	return c.consumeLines(body, onDelta, func(line string) (string, bool) {
		if strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			return "", false
		}
		return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
	})
}

func (c *HTTPClient) consumeNDJSON(body io.Reader, onDelta DeltaHandler) (string, error) {
	return c.consumeLines(body, onDelta, func(line string) (string, bool) {
		return line, true
	})
}

func (c *HTTPClient) consumeLines(body io.Reader, onDelta DeltaHandler, payloadOf func(string) (string, bool)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payload, ok := payloadOf(line)
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			break
		}

		delta := payload
		var obj map[string]any
		if err := json.Unmarshal([]byte(payload), &obj); err == nil {
			delta = extractText(obj)
		} else if c.strict {
			return out.String(), &Error{Provider: "http", Message: fmt.Sprintf("invalid stream payload %q", payload)}
		} else if out.Len() > 0 {
			// Plain-text continuation lines lose their separator in line splitting.
			delta = " " + payload
		}

		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return out.String(), err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return out.String(), &Error{Provider: "http", Err: fmt.Errorf("stream read: %w", err)}
	}

	return out.String(), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message", "content"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
