package parley

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestUploadAttachment(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages/m1/attachments" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "notes.txt" {
			t.Errorf("filename = %q, want notes.txt", header.Filename)
		}
		content, _ := io.ReadAll(file)
		if string(content) != "attachment body" {
			t.Errorf("content = %q", content)
		}
		writeJSON(t, w, Attachment{Key: "k1", Filename: "notes.txt"})
	}))

	att, err := client.Messages.UploadAttachment(context.Background(), "m1", "notes.txt",
		strings.NewReader("attachment body"))
	if err != nil {
		t.Fatalf("UploadAttachment returned error: %v", err)
	}
	if att.Key != "k1" || att.Filename != "notes.txt" {
		t.Errorf("attachment = %+v", att)
	}
}

func TestDownloadAttachment(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/m1/attachments/k1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		io.WriteString(w, "binary payload")
	}))

	body, err := client.Messages.DownloadAttachment(context.Background(), "m1", "k1")
	if err != nil {
		t.Fatalf("DownloadAttachment returned error: %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "binary payload" {
		t.Errorf("data = %q", data)
	}
}

func TestDownloadAttachmentError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))

	_, err := client.Messages.DownloadAttachment(context.Background(), "m1", "k1")
	reqErr, ok := err.(*RequestError)
	if !ok {
		t.Fatalf("error = %v, want *RequestError", err)
	}
	if reqErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", reqErr.Status)
	}
}
