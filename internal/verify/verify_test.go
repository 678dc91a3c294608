package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVerifySkipsWhenNoDeclaredValues(t *testing.T) {
	path := writeTemp(t, []byte("hello"))
	res, err := Verify(path, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.SizeOK || !res.HashOK {
		t.Fatalf("expected pass-through with no declared values, got %+v", res)
	}
}

func TestVerifyDetectsSizeMismatch(t *testing.T) {
	path := writeTemp(t, []byte("hello"))
	_, err := Verify(path, 999, "")
	if err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestVerifyChecksSHA256(t *testing.T) {
	content := []byte("integrity check payload")
	path := writeTemp(t, content)
	sum := sha256.Sum256(content)
	declared := "sha256:" + hex.EncodeToString(sum[:])

	res, err := Verify(path, int64(len(content)), declared)
	if err != nil {
		t.Fatalf("expected matching hash to pass, got %v", err)
	}
	if !res.HashOK {
		t.Fatal("expected HashOK true")
	}
}

func TestVerifyDetectsHashMismatch(t *testing.T) {
	path := writeTemp(t, []byte("payload"))
	_, err := Verify(path, 0, "sha256:0000000000000000000000000000000000000000000000000000000000000000")
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}
}
