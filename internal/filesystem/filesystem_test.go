package filesystem

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAllocateFileCreatesExactSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	a := NewAllocator()
	if err := a.AllocateFile(path, 4096); err != nil {
		t.Fatalf("AllocateFile failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 4096 {
		t.Fatalf("expected size 4096, got %d", info.Size())
	}
}

func TestStagingDirLayout(t *testing.T) {
	save := "/downloads/game.rom"
	if got := StagingDir(save); got != "/downloads/.game.rom.dpnh" {
		t.Fatalf("unexpected staging dir: %s", got)
	}
	if got := ChunkPartPath(save, 3); got != "/downloads/.game.rom.dpnh/chunk-0003.part" {
		t.Fatalf("unexpected chunk part path: %s", got)
	}
	if got := SimplePartPath(save); got != "/downloads/game.rom.part" {
		t.Fatalf("unexpected simple part path: %s", got)
	}
}

func TestOrganizeDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mp4")
	os.WriteFile(path, []byte("x"), 0o644)

	o := NewOrganizer(false)
	got, err := o.Organize(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Fatalf("expected unchanged path, got %s", got)
	}
}

func TestOrganizeMovesIntoCategory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mp4")
	os.WriteFile(path, []byte("x"), 0o644)

	o := NewOrganizer(true)
	got, err := o.Organize(path)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "Videos", "movie.mp4")
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected file at %s: %v", want, err)
	}
}
