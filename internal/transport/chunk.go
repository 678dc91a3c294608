package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/valyala/bytebufferpool"

	"romvault-engine/internal/apperr"
)

// ChunkRequest describes one chunk's work for DownloadChunk.
type ChunkRequest struct {
	URL          string
	PartPath     string
	Start        int64
	End          int64 // inclusive
	ResumeFrom   int64 // bytes already on disk and checkpoint-verified
}

// ErrServerIgnoredRange is returned when a ranged request comes back 200
// instead of 206: the Engine must abort and refetch from the chunk start.
var ErrServerIgnoredRange = apperr.New(apperr.Server, "RANGE_IGNORED", "server responded 200 to a ranged request")

// DownloadChunk issues one ranged GET for [start+resumeFrom, end] and
// streams it to the chunk part file, per spec §4.11 steps 3-5.
func DownloadChunk(ctx context.Context, client *http.Client, bw *BandwidthManager, req ChunkRequest, onProgress ProgressFunc) error {
	rangeStart := req.Start + req.ResumeFrom
	if rangeStart > req.End {
		return nil // already fully written
	}

	httpReq, err := NewRequest(ctx, req.URL)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rangeStart, req.End))

	resp, err := client.Do(httpReq)
	if err != nil {
		return apperr.Wrap(apperr.Network, "", "chunk request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return apperr.NewNonRetryable(apperr.Server, "LINK_EXPIRED", "link expired (403)")
	}
	if resp.StatusCode == http.StatusOK {
		return ErrServerIgnoredRange
	}
	if resp.StatusCode != http.StatusPartialContent {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 408 && resp.StatusCode != 429 {
			return apperr.NewNonRetryable(apperr.Server, "", fmt.Sprintf("non-retryable status %d", resp.StatusCode))
		}
		return apperr.New(apperr.Server, "", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	flags := os.O_CREATE | os.O_WRONLY
	f, err := os.OpenFile(req.PartPath, flags, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.Disk, "", "open chunk part file", err)
	}
	defer f.Close()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = growTo(buf.B, 256*1024)

	offset := rangeStart - req.Start
	wantBytes := req.End - rangeStart + 1
	var readBytes int64

	for readBytes < wantBytes {
		n, readErr := resp.Body.Read(buf.B)
		if n > 0 {
			if bw != nil {
				if err := bw.Wait(ctx, n); err != nil {
					return apperr.Wrap(apperr.Cancelled, "", "bandwidth wait cancelled", err)
				}
			}
			if _, err := f.WriteAt(buf.B[:n], offset); err != nil {
				return apperr.Wrap(apperr.Disk, "", "write chunk part", err)
			}
			offset += int64(n)
			readBytes += int64(n)
			if onProgress != nil {
				onProgress(req.ResumeFrom + readBytes)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.Cancelled, "", "cancelled", ctx.Err())
			default:
			}
			return apperr.Wrap(apperr.Network, "", "read chunk body", readErr)
		}
	}

	if readBytes != wantBytes {
		return apperr.New(apperr.Network, "", "short read: chunk did not complete its range")
	}
	return nil
}
