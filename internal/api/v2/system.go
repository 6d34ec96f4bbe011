package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/deskops/itsm-engine/internal/logger"
)

// startedAt is the process start used for engine uptime.
var startedAt = time.Now()

// SystemInfo describes the host the engine runs on.
type SystemInfo struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform,omitempty"`
	KernelVersion string  `json:"kernel_version,omitempty"`
	HostUptime    uint64  `json:"host_uptime_seconds"`
	EngineUptime  int64   `json:"engine_uptime_seconds"`
	CPUCount      int     `json:"cpu_count"`
	MemoryTotal   uint64  `json:"memory_total"`
	MemoryUsedPct float64 `json:"memory_used_percent"`
	Goroutines    int     `json:"goroutines"`
}

// GetSystemInfo reports host and process resource figures. Probes that
// fail leave their fields empty.
func (c *Controller) GetSystemInfo(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	info := SystemInfo{
		OS:           runtime.GOOS,
		EngineUptime: int64(time.Since(startedAt).Seconds()),
		CPUCount:     runtime.NumCPU(),
		Goroutines:   runtime.NumGoroutine(),
	}

	if h, err := host.InfoWithContext(reqCtx); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.KernelVersion = h.KernelVersion
		info.HostUptime = h.Uptime
	} else {
		c.logDebugIfEnabled("host info unavailable", logger.Error(err))
	}
	if n, err := cpu.CountsWithContext(reqCtx, true); err == nil && n > 0 {
		info.CPUCount = n
	}
	if vm, err := mem.VirtualMemoryWithContext(reqCtx); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsedPct = vm.UsedPercent
	} else {
		c.logDebugIfEnabled("memory info unavailable", logger.Error(err))
	}

	return ctx.JSON(http.StatusOK, info)
}
