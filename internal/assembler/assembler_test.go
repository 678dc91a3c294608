package assembler

import (
	"os"
	"path/filepath"
	"testing"

	"romvault-engine/internal/filesystem"
)

func TestAssembleConcatenatesPartsInOrder(t *testing.T) {
	dir := t.TempDir()
	savePath := filepath.Join(dir, "game.rom")

	staging := filesystem.StagingDir(savePath)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	parts := [][]byte{[]byte("AAAA"), []byte("BBBB"), []byte("CC")}
	for i, p := range parts {
		if err := os.WriteFile(filesystem.ChunkPartPath(savePath, i), p, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	total := int64(len(parts[0]) + len(parts[1]) + len(parts[2]))
	a := New(filesystem.NewAllocator())
	if err := a.Assemble(savePath, total, len(parts)); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	got, err := os.ReadFile(savePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "AAAABBBBCC" {
		t.Fatalf("expected concatenated content in order, got %q", got)
	}
}

func TestCleanupStagingRemovesArtifacts(t *testing.T) {
	dir := t.TempDir()
	savePath := filepath.Join(dir, "game.rom")
	os.MkdirAll(filesystem.StagingDir(savePath), 0o755)
	os.WriteFile(savePath+".merging", []byte("x"), 0o644)

	if err := CleanupStaging(savePath); err != nil {
		t.Fatalf("CleanupStaging failed: %v", err)
	}
	if _, err := os.Stat(filesystem.StagingDir(savePath)); !os.IsNotExist(err) {
		t.Fatal("expected staging dir to be removed")
	}
}
