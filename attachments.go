package parley

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// UploadAttachment uploads file content for a message as a multipart form.
// The content-type carries the writer's generated boundary; nothing else is
// forced on the transport.
func (m *MessagesClient) UploadAttachment(ctx context.Context, messageID, filename string, content io.Reader) (Attachment, error) {
	auth, err := m.c.authHeader(ctx)
	if err != nil {
		return Attachment{}, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return Attachment{}, fmt.Errorf("failed to write file data: %w", err)
	}
	if err := w.Close(); err != nil {
		return Attachment{}, fmt.Errorf("failed to finalize form: %w", err)
	}

	url := m.c.baseURL + "/messages/" + messageID + "/attachments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", auth)

	resp, err := m.c.httpClient.Do(req)
	if err != nil {
		return Attachment{}, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Attachment{}, &RequestError{Status: resp.StatusCode, Resource: "attachments"}
	}
	return decodeJSON[Attachment](data)
}

// DownloadAttachment streams an attachment's binary content. The caller owns
// the returned reader and must close it.
func (m *MessagesClient) DownloadAttachment(ctx context.Context, messageID, key string) (io.ReadCloser, error) {
	auth, err := m.c.authHeader(ctx)
	if err != nil {
		return nil, err
	}

	url := m.c.baseURL + "/messages/" + messageID + "/attachments/" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Authorization", auth)

	resp, err := m.c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &RequestError{Status: resp.StatusCode, Resource: "attachments"}
	}
	return resp.Body, nil
}
