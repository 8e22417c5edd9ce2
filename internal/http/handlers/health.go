package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"
)

const (
	statusOK            = "ok"
	statusError         = "error"
	statusNotConfigured = "not_configured"
	statusUnsupported   = "unsupported"

	slowPingThreshold = 100 * time.Millisecond
)

// HealthHandler reports service health: database reachability, whether this
// host can run extractions, and the memory used by the server and any engine
// processes it has spawned.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	engine    EngineController
	loader    LoaderStatus
}

// NewHealthHandler creates a health handler reporting version.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, startTime: time.Now()}
}

// WithDB adds database checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithEngine adds engine and queue state. loader may be nil.
func (h *HealthHandler) WithEngine(controller EngineController, loader LoaderStatus) *HealthHandler {
	h.engine = controller
	h.loader = loader
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns database and engine status with host load and memory",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth reports unhealthy when the database fails and degraded when the
// host cannot run extractions.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)
	db := h.databaseHealth(ctx)
	eng := h.engineHealth(ctx)

	status := "healthy"
	switch {
	case db.Status == statusError:
		status = "unhealthy"
	case eng.Status == statusUnsupported:
		status = "degraded"
	}

	memory := memoryInfo(ctx)
	memory.ProcessMemory = processMemory(ctx, memory.TotalMemoryMB)

	return &HealthOutput{Body: HealthResponse{
		Status:        status,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       cpuInfo(ctx),
		Memory:        memory,
		Components:    HealthComponents{Database: db, Engine: eng},
		Checks:        map[string]string{"database": db.Status, "engine": eng.Status},
	}}, nil
}

func (h *HealthHandler) databaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: statusNotConfigured}
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return DatabaseHealth{Status: statusError}
	}

	stats := sqlDB.Stats()
	health := DatabaseHealth{
		Status:             statusOK,
		ConnectionPoolSize: stats.MaxOpenConnections,
		ActiveConnections:  stats.InUse,
		IdleConnections:    stats.Idle,
	}
	if stats.MaxOpenConnections > 0 {
		health.PoolUtilizationPercent = percent(float64(stats.InUse), float64(stats.MaxOpenConnections))
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	elapsed := time.Since(start)
	health.ResponseTimeMS = float64(elapsed.Microseconds()) / 1000

	switch {
	case err != nil:
		health.Status = statusError
		health.ResponseTimeStatus = statusError
	case elapsed > slowPingThreshold:
		health.ResponseTimeStatus = "slow"
	default:
		health.ResponseTimeStatus = "healthy"
	}
	return health
}

func (h *HealthHandler) engineHealth(ctx context.Context) EngineHealth {
	if h.engine == nil {
		return EngineHealth{Status: statusNotConfigured}
	}
	health := EngineHealth{
		Status:     statusOK,
		Loaded:     h.engine.IsEngineLoaded(),
		Busy:       h.engine.Busy(),
		QueueDepth: h.engine.QueueDepth(),
	}
	if h.loader != nil {
		health.State = h.loader.State().String()
		health.Mirror = h.loader.Mirror()
	}
	if err := h.engine.CheckSupport(ctx); err != nil {
		health.Status = statusUnsupported
		health.Reason = err.Error()
	}
	return health
}

func cpuInfo(ctx context.Context) CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	avg, err := load.AvgWithContext(ctx)
	if err != nil || avg == nil {
		return info
	}
	info.Load1Min, info.Load5Min, info.Load15Min = avg.Load1, avg.Load5, avg.Load15
	if info.Cores > 0 {
		info.LoadPercentage1Min = percent(avg.Load1, float64(info.Cores))
	}
	return info
}

func memoryInfo(ctx context.Context) MemoryInfo {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil || vm == nil {
		return MemoryInfo{}
	}
	return MemoryInfo{
		TotalMemoryMB:     mib(vm.Total),
		UsedMemoryMB:      mib(vm.Used),
		FreeMemoryMB:      mib(vm.Free),
		AvailableMemoryMB: mib(vm.Available),
	}
}

// processMemory sums resident memory for this process and its children.
// Children are engine processes spawned for extractions.
func processMemory(ctx context.Context, totalMB float64) ProcessMemoryInfo {
	var info ProcessMemoryInfo
	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return info
	}
	if m, err := self.MemoryInfoWithContext(ctx); err == nil && m != nil {
		info.ServerMB = mib(m.RSS)
	}
	if children, err := self.ChildrenWithContext(ctx); err == nil {
		info.EngineProcessCount = len(children)
		for _, child := range children {
			if m, err := child.MemoryInfoWithContext(ctx); err == nil && m != nil {
				info.EngineProcessesMB += mib(m.RSS)
			}
		}
	}
	info.TotalMB = info.ServerMB + info.EngineProcessesMB
	if totalMB > 0 {
		info.PercentageOfSystem = percent(info.TotalMB, totalMB)
	}
	return info
}

func mib(b uint64) float64 {
	return float64(b) / (1 << 20)
}

func percent(part, whole float64) float64 {
	return part / whole * 100
}
