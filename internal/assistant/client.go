// Package assistant wraps the hosted assistant service's conversation
// protocol: threads, messages, asynchronous runs and file content.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAPIBase = "https://api.openai.com/v1"
	defaultTimeout = 90 * time.Second

	betaHeader      = "OpenAI-Beta"
	betaHeaderValue = "assistants=v2"
	orgHeader       = "OpenAI-Organization"
)

var errMissingAPIKey = errors.New("assistant: api key is required")

// UpstreamError reports a non-2xx response or malformed payload from the
// assistant service. Callers must not assume the request took effect.
type UpstreamError struct {
	Operation string
	Status    int
	Snippet   string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("assistant: %s failed: %s", e.Operation, e.Snippet)
	}
	return fmt.Sprintf("assistant: %s returned status %d: %s", e.Operation, e.Status, e.Snippet)
}

// RunStatus enumerates the run states reported by the assistant service.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
)

// Tool identifies an assistant capability enabled for a run.
type Tool string

const (
	ToolCodeInterpreter Tool = "code_interpreter"
	ToolFileSearch      Tool = "file_search"
)

// Attachment references a previously uploaded file to include with a message.
type Attachment struct {
	FileID string
}

// FileAnnotation marks a span of message text that references a service-side file.
type FileAnnotation struct {
	Text   string
	FileID string
}

// Message is one entry of a conversation thread.
type Message struct {
	ID               string
	Role             string
	Text             string
	CreatedAtSeconds int64
	FileAnnotations  []FileAnnotation
}

// FileMetadata describes a service-side file.
type FileMetadata struct {
	ID        string
	Filename  string
	SizeBytes int64
}

// ClientConfig configures the assistant service client.
type ClientConfig struct {
	APIBase    string
	APIKey     string
	OrgID      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues authenticated calls against the assistant service.
type Client struct {
	apiBase    string
	apiKey     string
	orgID      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client with safe defaults.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errMissingAPIKey
	}
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiBase:    apiBase,
		apiKey:     cfg.APIKey,
		orgID:      cfg.OrgID,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CreateThread opens a new conversation thread and returns its service-assigned id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, "create_thread", http.MethodPost, "/threads", map[string]any{}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &UpstreamError{Operation: "create_thread", Snippet: "response missing thread id"}
	}
	return out.ID, nil
}

// PostMessage appends a user message to the thread. Attachments are tagged for
// the service's document-search capability.
func (c *Client) PostMessage(ctx context.Context, threadID, content string, attachments []Attachment) error {
	payload := map[string]any{
		"role":    "user",
		"content": content,
	}
	if len(attachments) > 0 {
		wired := make([]map[string]any, 0, len(attachments))
		for _, attachment := range attachments {
			wired = append(wired, map[string]any{
				"file_id": attachment.FileID,
				"tools":   []map[string]string{{"type": string(ToolFileSearch)}},
			})
		}
		payload["attachments"] = wired
	}
	var out struct {
		ID string `json:"id"`
	}
	return c.doJSON(ctx, "post_message", http.MethodPost, "/threads/"+threadID+"/messages", payload, &out)
}

// StartRun begins an asynchronous run of the assistant over the thread.
func (c *Client) StartRun(ctx context.Context, threadID, assistantID string, tools []Tool, extraInstructions string) (string, error) {
	payload := map[string]any{
		"assistant_id": assistantID,
	}
	if len(tools) > 0 {
		wired := make([]map[string]string, 0, len(tools))
		for _, tool := range tools {
			wired = append(wired, map[string]string{"type": string(tool)})
		}
		payload["tools"] = wired
	}
	if strings.TrimSpace(extraInstructions) != "" {
		payload["additional_instructions"] = extraInstructions
	}
	var out struct {
		ID     string    `json:"id"`
		Status RunStatus `json:"status"`
	}
	if err := c.doJSON(ctx, "start_run", http.MethodPost, "/threads/"+threadID+"/runs", payload, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &UpstreamError{Operation: "start_run", Snippet: "response missing run id"}
	}
	return out.ID, nil
}

// PollRun reports the current status of a run.
func (c *Client) PollRun(ctx context.Context, threadID, runID string) (RunStatus, error) {
	var out struct {
		Status RunStatus `json:"status"`
	}
	if err := c.doJSON(ctx, "poll_run", http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &out); err != nil {
		return "", err
	}
	if out.Status == "" {
		return "", &UpstreamError{Operation: "poll_run", Snippet: "response missing run status"}
	}
	return out.Status, nil
}

type wireAnnotation struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	FilePath struct {
		FileID string `json:"file_id"`
	} `json:"file_path"`
	FileCitation struct {
		FileID string `json:"file_id"`
	} `json:"file_citation"`
}

type wireContent struct {
	Type string `json:"type"`
	Text struct {
		Value       string           `json:"value"`
		Annotations []wireAnnotation `json:"annotations"`
	} `json:"text"`
}

type wireMessage struct {
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	CreatedAt int64         `json:"created_at"`
	Content   []wireContent `json:"content"`
}

// ListMessages returns the thread's messages as reported by the service, in
// reverse-chronological order. Callers wanting chronological order must reverse.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var out struct {
		Data []wireMessage `json:"data"`
	}
	if err := c.doJSON(ctx, "list_messages", http.MethodGet, "/threads/"+threadID+"/messages", nil, &out); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(out.Data))
	for _, wire := range out.Data {
		message := Message{
			ID:               wire.ID,
			Role:             wire.Role,
			CreatedAtSeconds: wire.CreatedAt,
		}
		var text strings.Builder
		for _, content := range wire.Content {
			if content.Type != "text" {
				continue
			}
			text.WriteString(content.Text.Value)
			for _, annotation := range content.Text.Annotations {
				fileID := annotation.FilePath.FileID
				if fileID == "" {
					fileID = annotation.FileCitation.FileID
				}
				if fileID == "" || annotation.Text == "" {
					continue
				}
				message.FileAnnotations = append(message.FileAnnotations, FileAnnotation{
					Text:   annotation.Text,
					FileID: fileID,
				})
			}
		}
		message.Text = text.String()
		messages = append(messages, message)
	}
	return messages, nil
}

// GetFile fetches a service-side file's metadata together with its content.
func (c *Client) GetFile(ctx context.Context, fileID string) (FileMetadata, []byte, error) {
	var out struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
		Bytes    int64  `json:"bytes"`
	}
	if err := c.doJSON(ctx, "get_file", http.MethodGet, "/files/"+fileID, nil, &out); err != nil {
		return FileMetadata{}, nil, err
	}
	content, err := c.DownloadFileContent(ctx, fileID)
	if err != nil {
		return FileMetadata{}, nil, err
	}
	return FileMetadata{ID: out.ID, Filename: out.Filename, SizeBytes: out.Bytes}, content, nil
}

// DownloadFileContent fetches the raw bytes of a service-side file.
func (c *Client) DownloadFileContent(ctx context.Context, fileID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/files/"+fileID+"/content", nil, "")
	if err != nil {
		return nil, &UpstreamError{Operation: "download_file", Snippet: err.Error()}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Operation: "download_file", Snippet: err.Error()}
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Operation: "download_file", Snippet: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Operation: "download_file", Status: resp.StatusCode, Snippet: snippet(body)}
	}
	return body, nil
}

// UploadFile pushes raw content to the assistant service so later messages can
// attach it, and returns the service-assigned file id.
func (c *Client) UploadFile(ctx context.Context, filename string, content []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("purpose", "assistants"); err != nil {
		return "", &UpstreamError{Operation: "upload_file", Snippet: err.Error()}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", &UpstreamError{Operation: "upload_file", Snippet: err.Error()}
	}
	if _, err := part.Write(content); err != nil {
		return "", &UpstreamError{Operation: "upload_file", Snippet: err.Error()}
	}
	if err := writer.Close(); err != nil {
		return "", &UpstreamError{Operation: "upload_file", Snippet: err.Error()}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/files", &buf, writer.FormDataContentType())
	if err != nil {
		return "", &UpstreamError{Operation: "upload_file", Snippet: err.Error()}
	}
	body, status, err := c.send(req)
	if err != nil {
		return "", &UpstreamError{Operation: "upload_file", Snippet: err.Error()}
	}
	if status < 200 || status >= 300 {
		return "", &UpstreamError{Operation: "upload_file", Status: status, Snippet: snippet(body)}
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		return "", &UpstreamError{Operation: "upload_file", Status: status, Snippet: "response missing file id"}
	}
	return out.ID, nil
}

func (c *Client) doJSON(ctx context.Context, operation, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &UpstreamError{Operation: operation, Snippet: err.Error()}
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, path, body, "application/json")
	if err != nil {
		return &UpstreamError{Operation: operation, Snippet: err.Error()}
	}
	responseBody, status, err := c.send(req)
	if err != nil {
		return &UpstreamError{Operation: operation, Snippet: err.Error()}
	}
	if status < 200 || status >= 300 {
		c.logger.Warn("assistant call failed",
			zap.String("operation", operation),
			zap.Int("status", status))
		return &UpstreamError{Operation: operation, Status: status, Snippet: snippet(responseBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return &UpstreamError{Operation: operation, Status: status, Snippet: "malformed response payload"}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set(betaHeader, betaHeaderValue)
	if c.orgID != "" {
		req.Header.Set(orgHeader, c.orgID)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *Client) send(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func snippet(body []byte) string {
	const maxSnippet = 200
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > maxSnippet {
		return trimmed[:maxSnippet]
	}
	return trimmed
}
