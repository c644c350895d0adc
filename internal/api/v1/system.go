package api

import (
	"context"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dermascan/dermascan/internal/capture"
	"github.com/dermascan/dermascan/internal/datastore"
	"github.com/dermascan/dermascan/internal/logger"
)

const (
	healthProbeTimeout = 3 * time.Second
	bytesPerMB         = 1024 * 1024
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string      `json:"status"`
	Environment    string      `json:"environment"`
	DatabaseStatus string      `json:"database_status"`
	DatabaseError  string      `json:"database_error,omitempty"`
	Uptime         string      `json:"uptime"`
	UptimeSeconds  float64     `json:"uptime_seconds"`
	Timestamp      string      `json:"timestamp"`
	System         *SystemInfo `json:"system,omitempty"`
}

// SystemInfo represents basic host information
type SystemInfo struct {
	Hostname      string  `json:"hostname"`
	Platform      string  `json:"platform"`
	PlatformVer   string  `json:"platform_version"`
	HostUptime    uint64  `json:"host_uptime_seconds"`
	NumCPU        int     `json:"num_cpu"`
	GoVersion     string  `json:"go_version"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryUsage   float64 `json:"memory_usage_percent"`
}

// HealthCheck handles GET /health. A database failure degrades the status
// but still answers 200 so load balancers can tell the process is alive.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	resp := HealthResponse{
		Status:         "healthy",
		Environment:    c.Settings.Main.Environment,
		DatabaseStatus: "connected",
		Uptime:         uptime.Round(time.Second).String(),
		UptimeSeconds:  uptime.Seconds(),
		Timestamp:      time.Now().Format(time.RFC3339),
		System:         c.systemInfo(),
	}

	probeCtx, cancel := context.WithTimeout(ctx.Request().Context(), healthProbeTimeout)
	defer cancel()
	if _, err := c.store.ListExaminations(probeCtx, datastore.ExaminationQuery{Limit: 1}); err != nil {
		resp.Status = "degraded"
		resp.DatabaseStatus = "disconnected"
		resp.DatabaseError = err.Error()
	}

	return ctx.JSON(http.StatusOK, resp)
}

func (c *Controller) systemInfo() *SystemInfo {
	info := &SystemInfo{
		NumCPU:    runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}
	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.Platform = hi.Platform
		info.PlatformVer = hi.PlatformVersion
		info.HostUptime = hi.Uptime
	} else {
		c.logger.Debug("host info unavailable", logger.Error(err))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotalMB = float64(vm.Total) / bytesPerMB
		info.MemoryUsedMB = float64(vm.Used) / bytesPerMB
		info.MemoryUsage = vm.UsedPercent
	} else {
		c.logger.Debug("memory stats unavailable", logger.Error(err))
	}
	return info
}

// CaptureConstraintsResponse tells a client how to open its camera.
type CaptureConstraintsResponse struct {
	capture.Constraints
	NextDevice string `json:"next_device,omitempty"`
}

func (c *Controller) initCaptureRoutes() {
	c.Group.GET("/capture/constraints", c.CaptureConstraints, c.AuthMiddleware)
}

// CaptureConstraints handles GET /capture/constraints?devices=a,b&current=a.
// devices lists the camera ids the browser enumerated.
func (c *Controller) CaptureConstraints(ctx echo.Context) error {
	var devices []string
	for d := range strings.SplitSeq(ctx.QueryParam("devices"), ",") {
		if d = strings.TrimSpace(d); d != "" {
			devices = append(devices, d)
		}
	}

	resp := CaptureConstraintsResponse{
		Constraints: capture.CameraConstraints(ctx.Request().UserAgent(), len(devices), c.Settings.Capture.JPEGQuality),
	}
	if resp.CanSwitch {
		resp.NextDevice = capture.NextDevice(devices, ctx.QueryParam("current"))
	}
	return ctx.JSON(http.StatusOK, resp)
}
