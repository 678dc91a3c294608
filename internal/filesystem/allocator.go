// Package filesystem handles disk pre-allocation, staging-directory
// layout, and post-completion organization. The allocator is grounded
// directly in the teacher's internal/filesystem/allocator.go (gopsutil
// disk-space check + truncate pre-allocation); organization is grounded in
// internal/core/organizer.go's SmartOrganizer.
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"

	"romvault-engine/internal/apperr"
)

// Allocator pre-allocates final output files and reports free space.
type Allocator struct{}

func NewAllocator() *Allocator { return &Allocator{} }

// AllocateFile checks free space on path's volume and truncates a new
// file to size, failing with a DiskError when there isn't enough room.
func (a *Allocator) AllocateFile(path string, size int64) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.Disk, "", fmt.Sprintf("create staging dir %s", dir), err)
	}

	usage, err := disk.Usage(dir)
	if err == nil && int64(usage.Free) < size {
		return apperr.New(apperr.Disk, "ENOSPC",
			fmt.Sprintf("need %s, only %s free on volume containing %s",
				humanize.Bytes(uint64(size)), humanize.Bytes(usage.Free), dir))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.Disk, "", "open for pre-allocation", err)
	}
	defer f.Close()

	if size > 0 {
		if err := f.Truncate(size); err != nil {
			return apperr.Wrap(apperr.Disk, "ENOSPC", "truncate to target size", err)
		}
	}
	return nil
}

// DiskUsage reports free/total bytes for the volume containing path, used
// by session_metrics().
func DiskUsage(path string) (free, total uint64, err error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, 0, err
	}
	return usage.Free, usage.Total, nil
}

// StagingDir returns the per-download staging directory per §6's on-disk
// layout: "<save_dir>/.<save_name>.dpnh/".
func StagingDir(savePath string) string {
	dir := filepath.Dir(savePath)
	name := filepath.Base(savePath)
	return filepath.Join(dir, fmt.Sprintf(".%s.dpnh", name))
}

// ChunkPartPath returns the on-disk path for a given chunk index.
func ChunkPartPath(savePath string, index int) string {
	return filepath.Join(StagingDir(savePath), fmt.Sprintf("chunk-%04d.part", index))
}

// SimplePartPath returns the `.part` sibling used for SIMPLE mode.
func SimplePartPath(savePath string) string {
	return savePath + ".part"
}
