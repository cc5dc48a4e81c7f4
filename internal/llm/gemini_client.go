package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
)

// DefaultBaseURL is the public Gemini endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// maxEventSize bounds a single SSE data line. Grounded answers carry large
// metadata payloads on the final chunk. A longer line ends the stream with
// an error wrapping bufio.ErrTooLong.
const maxEventSize = 1024 * 1024

var dataPrefix = []byte("data:")

// GeminiClient implements Streamer for the Google Gemini API.
type GeminiClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeminiClient creates a new Google Gemini streaming client. An empty
// baseURL selects DefaultBaseURL; a nil httpClient selects a client without
// timeout, since streams are bounded by ctx instead.
func NewGeminiClient(apiKey, baseURL string, httpClient *http.Client) *GeminiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

// Stream posts req to streamGenerateContent and yields every decoded chunk.
// Errors are yielded once, after which the sequence ends.
func (c *GeminiClient) Stream(ctx context.Context, req *Request) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		resp, err := c.open(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if !bytes.HasPrefix(line, dataPrefix) {
				continue
			}
			payload := bytes.TrimSpace(line[len(dataPrefix):])
			if len(payload) == 0 {
				continue
			}

			var chunk Chunk
			if err := json.Unmarshal(payload, &chunk); err != nil {
				yield(nil, fmt.Errorf("decode chunk: %w", err))
				return
			}
			if !yield(&chunk, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("read stream: %w", err))
		}
	}
}

func (c *GeminiClient) open(ctx context.Context, req *Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if req.Model == "" {
		return nil, errors.New("request has no model")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, req.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call Gemini API: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}
