package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
)

// Upload submits a multipart form with the file under field "file" plus
// the extra fields. It is never retried and the body is not JSON encoded.
func (c *Client) Upload(ctx context.Context, path string, file io.Reader, filename string, fields map[string]string) (json.RawMessage, error) {
	fullURL := c.resolve(path, nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, newNetworkError(fullURL, fmt.Errorf("write field %s: %w", k, err))
		}
	}

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, newNetworkError(fullURL, fmt.Errorf("create form file: %w", err))
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, newNetworkError(fullURL, fmt.Errorf("copy file: %w", err))
	}
	if err := w.Close(); err != nil {
		return nil, newNetworkError(fullURL, fmt.Errorf("close multipart writer: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, &buf)
	if err != nil {
		return nil, newNetworkError(fullURL, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req)
}
