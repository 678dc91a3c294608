package transport

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"romvault-engine/internal/apperr"
)

// ProgressFunc is invoked with cumulative bytes written so far.
type ProgressFunc func(totalWritten int64)

// SimpleDownload streams one GET into partPath (spec §4.10). On a clean
// finish it renames partPath to finalPath. idleTimeout aborts the
// transfer with ERR_STALLED if no bytes arrive for that long.
func SimpleDownload(ctx context.Context, client *http.Client, bw *BandwidthManager, url, partPath, finalPath string, idleTimeout time.Duration, onProgress ProgressFunc) error {
	var resumeFrom int64
	if info, err := os.Stat(partPath); err == nil {
		resumeFrom = info.Size()
	}

	// The idle timer cancels the request when it fires, which unblocks a
	// Read that is waiting on a silent connection.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var stalled atomic.Bool
	idle := time.AfterFunc(idleTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer idle.Stop()

	req, err := NewRequest(ctx, url)
	if err != nil {
		return err
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", "bytes="+itoa(resumeFrom)+"-")
	}

	resp, err := client.Do(req)
	if err != nil {
		if stalled.Load() {
			return apperr.ErrStalled
		}
		return apperr.Wrap(apperr.Network, "", "simple download request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return apperr.NewNonRetryable(apperr.Server, "LINK_EXPIRED", "link expired (403)")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 408 && resp.StatusCode != 429 {
			return apperr.NewNonRetryable(apperr.Server, "", "non-retryable client error")
		}
		return apperr.New(apperr.Server, "", "unexpected status from origin")
	}
	if resp.StatusCode == http.StatusOK {
		resumeFrom = 0 // server ignored our Range, restart
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resumeFrom == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.Disk, "", "open part file", err)
	}
	defer f.Close()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = growTo(buf.B, 256*1024)

	written := resumeFrom
	lastProgress := time.Now()

	for {
		if time.Since(lastProgress) > idleTimeout {
			return apperr.ErrStalled
		}
		n, readErr := resp.Body.Read(buf.B)
		if n > 0 {
			if bw != nil {
				if err := bw.Wait(ctx, n); err != nil {
					return apperr.Wrap(apperr.Cancelled, "", "bandwidth wait cancelled", err)
				}
			}
			if _, err := f.WriteAt(buf.B[:n], written); err != nil {
				return apperr.Wrap(apperr.Disk, "", "write part file", err)
			}
			written += int64(n)
			lastProgress = time.Now()
			idle.Reset(idleTimeout)
			if onProgress != nil {
				onProgress(written)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if stalled.Load() {
				return apperr.ErrStalled
			}
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.Cancelled, "", "cancelled", ctx.Err())
			default:
			}
			return apperr.Wrap(apperr.Network, "", "read response body", readErr)
		}
	}

	if err := f.Close(); err != nil {
		return apperr.Wrap(apperr.Disk, "", "close part file", err)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		return apperr.Wrap(apperr.Disk, "", "rename part to final", err)
	}
	return nil
}

func growTo(b []byte, n int) []byte {
	if cap(b) >= n {
		return b[:n]
	}
	return make([]byte, n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
