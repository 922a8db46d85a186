package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// multipartFile is the audio part of a transcription upload.
type multipartFile struct {
	Field    string
	Filename string
	MimeType string
	Data     []byte
}

// buildMultipart encodes file plus the ordered form fields.
func buildMultipart(file multipartFile, fields [][2]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, file.Field, file.Filename))
	if file.MimeType != "" {
		h.Set("Content-Type", file.MimeType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// do sends req and returns the body of a 2xx response. Other statuses become *ProviderError.
func do(client *http.Client, req *http.Request, provider, op string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: send request: %w", provider, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", provider, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		L_error("stt: request failed", "provider", provider, "op", op, "status", resp.StatusCode, "body", truncateBody(body))
		return nil, &ProviderError{
			Provider:   provider,
			Op:         op,
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       truncateBody(body),
		}
	}
	return body, nil
}

func postJSON(ctx context.Context, client *http.Client, url, auth string, payload any, provider, op string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "application/json")
	return do(client, req, provider, op)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// textResponse is the {text} body returned by OpenAI-style transcription endpoints.
type textResponse struct {
	Text string `json:"text"`
}

func parseText(body []byte, provider string) (string, error) {
	var r textResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("%s: parse response: %w", provider, err)
	}
	return r.Text, nil
}
