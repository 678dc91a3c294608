// Package assembler implements the File Assembler (spec §4.12): pre-allocate,
// concatenate chunk parts in order, fsync, and atomically rename into place.
// Grounded on the teacher's allocator (internal/filesystem/allocator.go) for
// pre-allocation and its worker-pool merge step (internal/core/engine.go's
// merge flow), generalized to run on the Worker Pool instead of inline.
package assembler

import (
	"fmt"
	"io"
	"os"

	"github.com/valyala/bytebufferpool"

	"romvault-engine/internal/apperr"
	"romvault-engine/internal/filesystem"
)

const copyBufferSize = 1 << 20 // 1 MiB

// Assembler merges a chunked download's part files into the final path.
type Assembler struct {
	allocator *filesystem.Allocator
}

func New(allocator *filesystem.Allocator) *Assembler {
	return &Assembler{allocator: allocator}
}

// Assemble pre-allocates a staging output file, appends every chunk part in
// index order, fsyncs best-effort, then renames atomically to finalPath.
// Chunk part files are left untouched until the rename succeeds, so a
// failed merge can retry without re-downloading (§4.12 "chunk parts are
// preserved for retry").
func (a *Assembler) Assemble(savePath string, totalBytes int64, chunkCount int) error {
	stagingOut := savePath + ".merging"
	if err := a.allocator.AllocateFile(stagingOut, totalBytes); err != nil {
		return err
	}

	out, err := os.OpenFile(stagingOut, os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.Disk, "", "open staging output", err)
	}
	defer out.Close()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = growTo(buf.B, copyBufferSize)

	var offset int64
	for i := 0; i < chunkCount; i++ {
		partPath := filesystem.ChunkPartPath(savePath, i)
		if err := appendPart(out, partPath, buf.B, &offset); err != nil {
			return fmt.Errorf("assembler: append chunk %d: %w", i, err)
		}
	}

	if err := out.Sync(); err != nil {
		// best-effort per spec; log-worthy but not fatal on all filesystems
	}
	if err := out.Close(); err != nil {
		return apperr.Wrap(apperr.Disk, "", "close staging output", err)
	}

	if err := os.Rename(stagingOut, savePath); err != nil {
		return apperr.Wrap(apperr.Disk, "", "rename into place", err)
	}
	return nil
}

func appendPart(out *os.File, partPath string, buf []byte, offset *int64) error {
	in, err := os.Open(partPath)
	if err != nil {
		return apperr.Wrap(apperr.Disk, "", "open chunk part", err)
	}
	defer in.Close()

	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.WriteAt(buf[:n], *offset); writeErr != nil {
				return apperr.Wrap(apperr.Disk, "", "write assembled output", writeErr)
			}
			*offset += int64(n)
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return apperr.Wrap(apperr.Disk, "", "read chunk part", readErr)
		}
	}
}

// CleanupStaging removes a download's staging directory (part files) and
// any leftover `.merging` temp file after a successful merge or a cancel.
func CleanupStaging(savePath string) error {
	if err := os.RemoveAll(filesystem.StagingDir(savePath)); err != nil {
		return err
	}
	if err := os.Remove(savePath + ".merging"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func growTo(b []byte, n int) []byte {
	if cap(b) >= n {
		return b[:n]
	}
	return make([]byte, n)
}
