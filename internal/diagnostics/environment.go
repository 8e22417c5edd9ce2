package diagnostics

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/audex/internal/engine"
)

// Environment describes the host and engine an extraction ran on.
type Environment struct {
	OS              string `json:"os"`
	Arch            string `json:"arch"`
	Platform        string `json:"platform,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	CPUModel        string `json:"cpu_model,omitempty"`
	LogicalCPUs     int    `json:"logical_cpus"`
	Concurrency     int    `json:"concurrency"`
	TotalMemory     uint64 `json:"total_memory,omitempty"`
	AvailableMemory uint64 `json:"available_memory,omitempty"`
	GoVersion       string `json:"go_version"`

	EngineName    string `json:"engine_name,omitempty"`
	EngineVersion string `json:"engine_version,omitempty"`
	EngineMirror  string `json:"engine_mirror,omitempty"`
	Isolated      bool   `json:"isolated"`
}

// CollectEnvironment gathers host facts. Missing facts are left zero. eng may be nil.
func CollectEnvironment(ctx context.Context, eng engine.Engine) Environment {
	env := Environment{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		LogicalCPUs: runtime.NumCPU(),
		Concurrency: runtime.GOMAXPROCS(0),
		GoVersion:   runtime.Version(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil && info != nil {
		env.Platform = info.Platform
		if info.PlatformVersion != "" {
			env.Platform += " " + info.PlatformVersion
		}
		env.KernelVersion = info.KernelVersion
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		env.LogicalCPUs = n
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		env.CPUModel = infos[0].ModelName
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		env.TotalMemory = vm.Total
		env.AvailableMemory = vm.Available
	}

	if d, ok := eng.(engine.Describer); ok {
		info := d.Info()
		env.EngineName = info.Name
		env.EngineVersion = info.Version
		env.EngineMirror = info.Mirror
		env.Isolated = info.Isolated
	}
	return env
}
