// Package netprobe is an optional network preflight that seeds the
// Concurrency Controller's initial per-download chunk target, grounded in
// the teacher's RunSpeedTest (internal/core/network.go) via
// showwin/speedtest-go.
package netprobe

import (
	"fmt"

	"github.com/showwin/speedtest-go/speedtest"
)

// Result summarizes one speed test pass.
type Result struct {
	DownloadMbps float64
	UploadMbps   float64
	ServerName   string
}

// Run executes a single best-server speed test. Callers treat failure as
// non-fatal: the controller simply starts cold at its configured floor.
func Run() (Result, error) {
	client := speedtest.New()

	servers, err := client.FetchServers()
	if err != nil {
		return Result{}, fmt.Errorf("netprobe: fetch servers: %w", err)
	}
	targets, err := servers.FindServer(nil)
	if err != nil || len(targets) == 0 {
		return Result{}, fmt.Errorf("netprobe: find server: %w", err)
	}
	server := targets[0]

	if err := server.DownloadTest(); err != nil {
		return Result{}, fmt.Errorf("netprobe: download test: %w", err)
	}
	if err := server.UploadTest(); err != nil {
		return Result{}, fmt.Errorf("netprobe: upload test: %w", err)
	}

	return Result{
		DownloadMbps: server.DLSpeed.Mbps(),
		UploadMbps:   server.ULSpeed.Mbps(),
		ServerName:   server.Name,
	}, nil
}

// InitialChunkTarget maps an observed download speed into a seed for the
// Concurrency Controller's per-download chunk count, bounded by [floor, cap].
func InitialChunkTarget(mbps float64, floor, cap int) int {
	target := floor
	switch {
	case mbps >= 500:
		target = cap
	case mbps >= 200:
		target = cap - 2
	case mbps >= 50:
		target = floor + 2
	}
	if target < floor {
		target = floor
	}
	if target > cap {
		target = cap
	}
	return target
}
