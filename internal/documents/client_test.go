package documents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateUpload(t *testing.T) {
	c := NewClient("https://store.example.com", "key")

	cases := []struct {
		name        string
		fileName    string
		contentType string
		size        int64
		wantErr     bool
	}{
		{"pdf ok", "policy.pdf", "application/pdf", 1024, false},
		{"csv ok", "plans.csv", "text/csv", 1024, false},
		{"csv by extension", "plans.csv", "application/octet-stream", 1024, false},
		{"excel-labelled csv", "plans.csv", "application/vnd.ms-excel", 1024, false},
		{"image rejected", "photo.png", "image/png", 1024, true},
		{"too large", "policy.pdf", "application/pdf", DefaultMaxUploadBytes + 1, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.ValidateUpload(tc.fileName, tc.contentType, tc.size)
			if tc.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "policy.pdf" {
			t.Errorf("unexpected filename %q", header.Filename)
		}
		w.Write([]byte(`{"id": "doc-1", "name": "policy.pdf", "file_type": "application/pdf", "created_at": "2024-05-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	doc, err := c.Upload(context.Background(), "policy.pdf", "application/pdf", 128, strings.NewReader("%PDF-1.7"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.ID != "doc-1" || doc.FileType != "application/pdf" {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestUpload_RejectedBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	_, err := c.Upload(context.Background(), "photo.png", "image/png", 128, strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if called {
		t.Error("invalid upload must not reach the store")
	}
}

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/documents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[{"id": "a", "name": "plans.csv", "file_type": "text/csv", "created_at": "2024-05-01T00:00:00Z"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")
	docs, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "plans.csv" {
		t.Errorf("unexpected documents: %+v", docs)
	}
}

func TestDownloadURL(t *testing.T) {
	c := NewClient("https://store.example.com/", "key")

	if got := c.DownloadURL("user-1/17000-policy.pdf"); got != "https://store.example.com/files/user-1/17000-policy.pdf" {
		t.Errorf("unexpected URL: %s", got)
	}
	if got := c.DownloadURL("/user-1/x.csv"); got != "https://store.example.com/files/user-1/x.csv" {
		t.Errorf("unexpected URL: %s", got)
	}
	abs := "https://cdn.example.com/x.pdf"
	if got := c.DownloadURL(abs); got != abs {
		t.Errorf("absolute URLs must pass through, got %s", got)
	}
}
