package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"sankeyhub/internal/store"
)

// storePingTimeout caps how long a health check waits on the table.
const storePingTimeout = 2 * time.Second

// SchedulerInfo exposes the scheduler depth for health reporting.
type SchedulerInfo interface {
	ArmedCount() int
}

// ClientCounter exposes the live connection count for health reporting.
type ClientCounter interface {
	ClientCount() int
}

// RuntimeStatsSource supplies collected system statistics for the health
// report's runtime section.
type RuntimeStatsSource interface {
	Snapshot(ctx context.Context) map[string]interface{}
}

// HealthService reports component health and build info.
type HealthService struct {
	version   string
	buildTime string
	store     store.Store
	scheduler SchedulerInfo
	hub       ClientCounter
	system    RuntimeStatsSource
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus is the full health check response.
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version"`
	BuildTime  string                     `json:"build_time,omitempty"`
	Uptime     string                     `json:"uptime"`
	Runtime    map[string]interface{}     `json:"runtime,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is one component's contribution to the overall status.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service. scheduler and hub may be nil;
// their components are then omitted from the report.
func NewHealthService(st store.Store, scheduler SchedulerInfo, hub ClientCounter, version, buildTime string, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		buildTime: buildTime,
		store:     st,
		scheduler: scheduler,
		hub:       hub,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// SetRuntimeStats attaches a system metrics source. Without one the report
// falls back to the basic goroutine count.
func (s *HealthService) SetRuntimeStats(src RuntimeStatsSource) {
	s.system = src
}

// Check assembles the full health report. The store is probed with a short
// timeout; an unreachable table degrades the overall status.
func (s *HealthService) Check(ctx context.Context) *HealthStatus {
	now := time.Now()
	runtimeInfo := map[string]interface{}{
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	}
	if s.system != nil {
		for k, v := range s.system.Snapshot(ctx) {
			runtimeInfo[k] = v
		}
	}

	status := &HealthStatus{
		Status:     "healthy",
		Timestamp:  now.UTC(),
		Version:    s.version,
		BuildTime:  s.buildTime,
		Uptime:     now.Sub(s.startTime).Round(time.Second).String(),
		Runtime:    runtimeInfo,
		Components: make(map[string]ComponentHealth),
	}

	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := s.store.Ping(pingCtx); err != nil {
		status.Status = "degraded"
		status.Components["store"] = ComponentHealth{Status: "down", Message: err.Error()}
		s.logger.ErrorContext(ctx, "store health check failed",
			slog.String("error", err.Error()))
	} else {
		status.Components["store"] = ComponentHealth{Status: "up"}
	}

	if s.scheduler != nil {
		status.Components["scheduler"] = ComponentHealth{
			Status:  "up",
			Message: fmt.Sprintf("%d timers armed", s.scheduler.ArmedCount()),
		}
	}
	if s.hub != nil {
		status.Components["websocket"] = ComponentHealth{
			Status:  "up",
			Message: fmt.Sprintf("%d clients connected", s.hub.ClientCount()),
		}
	}
	return status
}

// Live answers the cheap liveness probe.
func (s *HealthService) Live() map[string]string {
	return map[string]string{
		"status":  "ok",
		"version": s.version,
	}
}
