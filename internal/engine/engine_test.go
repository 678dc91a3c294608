package engine

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"romvault-engine/internal/apperr"
	"romvault-engine/internal/config"
	"romvault-engine/internal/eventbus"
	"romvault-engine/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type noopNotifier struct{}

func (noopNotifier) Publish(string, any) {}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "engine-test.db")
	store, err := storage.Open(dbPath, noopNotifier{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	bus := eventbus.New(0)
	t.Cleanup(bus.Close)

	eng, err := New(cfg, testLogger(), store, bus)
	if err != nil {
		t.Fatalf("construct engine: %v", err)
	}
	return eng
}

func TestEngineConstructsAndShutsDownCleanly(t *testing.T) {
	eng := newTestEngine(t)
	time.Sleep(10 * time.Millisecond) // let the tick loop pass over an empty queue
	eng.Shutdown()
}

func TestHostOfExtractsHostname(t *testing.T) {
	if got := hostOf("https://cdn.example.com/file.bin"); got != "cdn.example.com" {
		t.Fatalf("expected cdn.example.com, got %q", got)
	}
	if got := hostOf("not a url"); got == "" {
		t.Fatal("expected a fallback value for an unparsable URL")
	}
}

func TestClassifyExtractsAppErrFields(t *testing.T) {
	kind, code, msg := classify(apperr.New(apperr.Integrity, "BAD_HASH", "checksum mismatch"))
	if kind != apperr.Integrity || code != "BAD_HASH" || msg != "checksum mismatch" {
		t.Fatalf("unexpected classification: %v %v %v", kind, code, msg)
	}

	kind, _, _ = classify(errPlain{"boom"})
	if kind != apperr.Network {
		t.Fatalf("expected plain errors to classify as NetworkError, got %v", kind)
	}
}

type errPlain struct{ s string }

func (e errPlain) Error() string { return e.s }

func TestRetryableFollowsKind(t *testing.T) {
	if !retryable(apperr.New(apperr.Network, "", "timeout")) {
		t.Fatal("network errors should be retryable")
	}
	if retryable(apperr.New(apperr.Validation, "", "bad input")) {
		t.Fatal("validation errors should not be retryable")
	}
	if !retryable(errPlain{"unclassified"}) {
		t.Fatal("unclassified errors should default to retryable")
	}
}

func TestRetryableHonorsNonRetryableServerError(t *testing.T) {
	if !retryable(apperr.New(apperr.Server, "", "upstream 500")) {
		t.Fatal("a plain ServerError should still be retryable by default")
	}
	if retryable(apperr.NewNonRetryable(apperr.Server, "", "non-retryable status 404")) {
		t.Fatal("a definitive 4xx ServerError should not be retried")
	}
}

func TestSumChunkProgressAddsWrittenBytes(t *testing.T) {
	rows := []storage.Chunk{{WrittenBytes: 100}, {WrittenBytes: 250}, {WrittenBytes: 0}}
	if got := sumChunkProgress(rows); got != 350 {
		t.Fatalf("expected 350, got %d", got)
	}
}
