package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// ProbeResult carries what the engine needs to choose SIMPLE vs CHUNKED.
type ProbeResult struct {
	TotalBytes   int64 // 0 if unknown
	AcceptRanges bool
}

// Probe issues a HEAD (falling back to a zero-range GET, since some
// servers mishandle HEAD) to resolve size and range support, per §4.14
// step 2.
func Probe(ctx context.Context, client *http.Client, url string) (ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return ProbeResult{}, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resultFromHeaders(resp), nil
		}
	}

	// Fall back to a zero-range GET.
	req2, err := NewRequest(ctx, url)
	if err != nil {
		return ProbeResult{}, err
	}
	req2.Header.Set("Range", "bytes=0-0")
	resp2, err := client.Do(req2)
	if err != nil {
		return ProbeResult{}, err
	}
	defer resp2.Body.Close()
	return resultFromHeaders(resp2), nil
}

func resultFromHeaders(resp *http.Response) ProbeResult {
	result := ProbeResult{AcceptRanges: resp.Header.Get("Accept-Ranges") == "bytes"}
	if resp.StatusCode == http.StatusPartialContent {
		result.AcceptRanges = true
		if total, ok := totalFromContentRange(resp.Header.Get("Content-Range")); ok {
			result.TotalBytes = total
			return result
		}
	}
	if resp.ContentLength > 0 {
		result.TotalBytes = resp.ContentLength
	}
	return result
}

// totalFromContentRange parses "bytes 0-0/12345" into 12345.
func totalFromContentRange(header string) (int64, bool) {
	idx := strings.LastIndex(header, "/")
	if idx == -1 || idx == len(header)-1 {
		return 0, false
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}
