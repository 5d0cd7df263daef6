// Package index is the gateway to the remote document-indexing/search
// service. It isolates callers from transport concerns: every operation is
// scoped by chat id, batched where the remote API allows it, and idempotent
// from the caller's perspective (the remote side keys on chat id + file name).
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable marks transport failures, timeouts, remote server errors and
// malformed remote replies. Callers must treat local and remote state as
// divergent when they see it; a later sync recomputes the diff and converges.
var ErrUnavailable = errors.New("index service unavailable")

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// File is one document payload submitted for ingestion.
type File struct {
	Name     string
	Content  []byte
	MimeType string
}

// Fragment is one ranked search result.
type Fragment struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// IndexFiles submits new documents for ingestion and embedding as a single
// multipart request.
func (c *Client) IndexFiles(ctx context.Context, chatID uint, files []File) error {
	if len(files) == 0 {
		return nil
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", formatChatID(chatID)); err != nil {
		return fmt.Errorf("write chat_id field failed: %w", err)
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(file.Name)))
		mimeType := file.MimeType
		if mimeType == "" {
			mimeType = "application/pdf"
		}
		header.Set("Content-Type", mimeType)

		part, err := writer.CreatePart(header)
		if err != nil {
			return fmt.Errorf("create multipart part failed: %w", err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return fmt.Errorf("write multipart payload failed: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-pdfs", &body)
	if err != nil {
		return fmt.Errorf("build ingest request failed: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var parsed struct {
		Filenames []string `json:"filenames"`
		Message   string   `json:"message"`
	}
	if err := c.do(req, &parsed); err != nil {
		return err
	}
	if len(parsed.Filenames) != len(files) {
		return fmt.Errorf("%w: ingest acknowledged %d of %d files",
			ErrUnavailable, len(parsed.Filenames), len(files))
	}
	return nil
}

// RemoveFiles deletes the named documents from the chat's index in one
// batched call. Already-absent names are not an error on the remote side.
func (c *Client) RemoveFiles(ctx context.Context, chatID uint, fileNames []string) error {
	if len(fileNames) == 0 {
		return nil
	}

	query := url.Values{}
	query.Set("chat_id", formatChatID(chatID))
	for _, name := range fileNames {
		query.Add("filenames", name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/delete-files?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build delete request failed: %w", err)
	}

	var parsed struct {
		Message string `json:"message"`
		Results []struct {
			Filename string `json:"filename"`
			Status   string `json:"status"`
			Detail   string `json:"detail"`
		} `json:"results"`
	}
	if err := c.do(req, &parsed); err != nil {
		return err
	}
	for _, result := range parsed.Results {
		if result.Status == "error" {
			return fmt.Errorf("%w: delete %q failed remotely: %s",
				ErrUnavailable, result.Filename, result.Detail)
		}
	}
	return nil
}

// Search queries the chat's index and returns fragments in the remote
// service's relevance order. An empty result is not an error.
func (c *Client) Search(ctx context.Context, chatID uint, query string, scoreThreshold float64) ([]Fragment, error) {
	params := url.Values{}
	params.Set("chat_id", formatChatID(chatID))
	params.Set("query", query)
	if scoreThreshold > 0 {
		params.Set("score_threshold", strconv.FormatFloat(scoreThreshold, 'f', -1, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search-chat?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request failed: %w", err)
	}

	var fragments []Fragment
	if err := c.do(req, &fragments); err != nil {
		return nil, err
	}
	return fragments, nil
}

// DeleteChat removes every index entry scoped to the chat.
func (c *Client) DeleteChat(ctx context.Context, chatID uint) error {
	query := url.Values{}
	query.Set("chat_id", formatChatID(chatID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/delete-chat?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build delete chat request failed: %w", err)
	}

	var parsed struct {
		Message string `json:"message"`
	}
	return c.do(req, &parsed)
}

// do executes the request and decodes the reply into out. The remote reply is
// never trusted as-is: non-2xx statuses and undecodable bodies both map to
// ErrUnavailable.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response failed: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(raw), 256))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response failed: %v", ErrUnavailable, err)
	}
	return nil
}

func formatChatID(chatID uint) string {
	return strconv.FormatUint(uint64(chatID), 10)
}

func escapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
