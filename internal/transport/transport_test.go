package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newCtx() context.Context { return context.Background() }

func TestSimpleDownloadWritesAndRenames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	part := filepath.Join(dir, "out.part")
	final := filepath.Join(dir, "out.bin")

	err := SimpleDownload(newCtx(), srv.Client(), nil, srv.URL, part, final, time.Second, nil)
	if err != nil {
		t.Fatalf("SimpleDownload failed: %v", err)
	}
	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestDownloadChunkWritesRangeAtOffset(t *testing.T) {
	body := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 2-5/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[2:6])
	}))
	defer srv.Close()

	dir := t.TempDir()
	part := filepath.Join(dir, "chunk-0000.part")

	err := DownloadChunk(newCtx(), srv.Client(), nil, ChunkRequest{
		URL: srv.URL, PartPath: part, Start: 2, End: 5,
	}, nil)
	if err != nil {
		t.Fatalf("DownloadChunk failed: %v", err)
	}
	got, err := os.ReadFile(part)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "2345" {
		t.Fatalf("expected chunk bytes '2345', got %q", got)
	}
}

func TestDownloadChunkDetectsIgnoredRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("full body ignoring range"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	part := filepath.Join(dir, "chunk-0000.part")

	err := DownloadChunk(newCtx(), srv.Client(), nil, ChunkRequest{
		URL: srv.URL, PartPath: part, Start: 0, End: 9,
	}, nil)
	if err != ErrServerIgnoredRange {
		t.Fatalf("expected ErrServerIgnoredRange, got %v", err)
	}
}

func TestBackoffDelayRespectsMax(t *testing.T) {
	d := BackoffDelay(10, 100*time.Millisecond, time.Second)
	if d > time.Second {
		t.Fatalf("expected backoff to be capped at max, got %v", d)
	}
}
