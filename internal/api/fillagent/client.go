// Package fillagent is the HTTP client for the remote form-filling agent
// backend. It owns the stream decoding boundary: the long-lived SSE
// responses of the fill and parse endpoints are turned into channels of
// typed events here, and untyped payloads never leak past this package.
package fillagent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/acroflow/acroflow/internal/domain"
)

const defaultBaseURL = "http://localhost:8000"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL for the backend.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithCredential sets the opaque bearer credential forwarded to the backend.
func WithCredential(credential string) ClientOption {
	return func(c *Client) {
		c.credential = credential
	}
}

// Client talks to the form-filling backend.
type Client struct {
	baseURL    string
	credential string
	httpClient *http.Client
}

// NewClient creates a backend client. The default transport is instrumented
// with OpenTelemetry.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Analyze uploads a PDF and returns the detected form fields.
func (c *Client) Analyze(ctx context.Context, filename string, pdf []byte) (*AnalyzeResult, error) {
	body, contentType, err := encodeMultipart(func(w *multipart.Writer) error {
		return writeFilePart(w, "file", filename, pdf)
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, "/analyze", contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyze failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result AnalyzeResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analyze response: %w", err)
	}
	return &result, nil
}

// OpenFillStream starts one streamed agent turn and returns a channel of
// decoded events. The channel is closed when the underlying transport ends;
// an abnormal end is delivered as a final result with Err set.
func (c *Client) OpenFillStream(ctx context.Context, req *FillStreamRequest) (<-chan StreamResult, error) {
	body, contentType, err := encodeMultipart(func(w *multipart.Writer) error {
		if err := writeFilePart(w, "file", req.Filename, req.PDF); err != nil {
			return err
		}
		if err := w.WriteField("instructions", req.Instructions); err != nil {
			return err
		}
		if err := w.WriteField("is_continuation", strconv.FormatBool(req.IsContinuation)); err != nil {
			return err
		}
		if len(req.PreviousEdits) > 0 {
			edits, err := json.Marshal(req.PreviousEdits)
			if err != nil {
				return fmt.Errorf("failed to marshal previous edits: %w", err)
			}
			if err := w.WriteField("previous_edits", string(edits)); err != nil {
				return err
			}
		}
		if req.ResumeSessionID != "" {
			if err := w.WriteField("resume_session_id", req.ResumeSessionID); err != nil {
				return err
			}
		}
		if req.UserSessionID != "" {
			if err := w.WriteField("user_session_id", req.UserSessionID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, "/fill-agent-stream", contentType, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fill stream rejected (status %d): %s", resp.StatusCode, string(respBody))
	}

	out := make(chan StreamResult)
	go func() {
		defer close(out)
		err := scanEvents(resp.Body, func(data json.RawMessage) error {
			var event domain.StreamEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("failed to decode stream event: %w", err)
			}
			out <- StreamResult{Event: &event}
			return nil
		})
		if err != nil {
			out <- StreamResult{Err: err}
		}
	}()
	return out, nil
}

// OpenParseStream uploads auxiliary context files and streams parse progress.
func (c *Client) OpenParseStream(ctx context.Context, files []UploadFile, parseMode, userSessionID string) (<-chan ParseStreamResult, error) {
	body, contentType, err := encodeMultipart(func(w *multipart.Writer) error {
		for _, f := range files {
			if err := writeFilePart(w, "files", f.Filename, f.Data); err != nil {
				return err
			}
		}
		if err := w.WriteField("parse_mode", parseMode); err != nil {
			return err
		}
		return w.WriteField("user_session_id", userSessionID)
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, "/parse-stream", contentType, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("parse stream rejected (status %d): %s", resp.StatusCode, string(respBody))
	}

	out := make(chan ParseStreamResult)
	go func() {
		defer close(out)
		err := scanEvents(resp.Body, func(data json.RawMessage) error {
			var event ParseEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("failed to decode parse event: %w", err)
			}
			out <- ParseStreamResult{Event: &event}
			return nil
		})
		if err != nil {
			out <- ParseStreamResult{Err: err}
		}
	}()
	return out, nil
}

// FetchSessionFilledPDF retrieves the current filled PDF for a backend user
// session. A missing document is reported as (nil, nil), not an error.
func (c *Client) FetchSessionFilledPDF(ctx context.Context, userSessionID string) ([]byte, error) {
	return c.fetchPDF(ctx, "/session/"+userSessionID+"/pdf")
}

// FetchSessionOriginalPDF retrieves the original (unfilled) PDF for a
// backend user session, or (nil, nil) if the backend no longer has it.
func (c *Client) FetchSessionOriginalPDF(ctx context.Context, userSessionID string) ([]byte, error) {
	return c.fetchPDF(ctx, "/session/"+userSessionID+"/original-pdf")
}

// FetchSessionContextFiles lists the context documents attached to a backend
// user session. An unknown session yields (nil, nil).
func (c *Client) FetchSessionContextFiles(ctx context.Context, userSessionID string) ([]ContextFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session/"+userSessionID+"/files", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch context files failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Files []ContextFile `json:"files"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context files: %w", err)
	}
	return result.Files, nil
}

func (c *Client) fetchPDF(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch PDF failed (status %d): %s", resp.StatusCode, string(respBody))
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, path, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "acroflow/1.0")
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}
}

// scanEvents reads SSE "data: {...}" records from the response body and
// invokes emit for each JSON payload in arrival order. It returns nil on a
// normal transport close and an error for a scanner failure or an emit
// error, so callers can distinguish the two endings.
func scanEvents(body io.ReadCloser, emit func(json.RawMessage) error) error {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	// Filled PDFs arrive hex-encoded on a single record.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 32*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if err := emit(json.RawMessage(data)); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read error: %w", err)
	}
	return nil
}

func encodeMultipart(build func(*multipart.Writer) error) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := build(w); err != nil {
		return nil, "", fmt.Errorf("failed to encode request body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize request body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, field, filename string, data []byte) error {
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write file part: %w", err)
	}
	return nil
}
