package native

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/audex/internal/storage"
)

// supportedPlatforms are the os/arch pairs mirrors publish builds for.
var supportedPlatforms = map[string]bool{
	"linux/amd64":   true,
	"linux/arm64":   true,
	"darwin/amd64":  true,
	"darwin/arm64":  true,
	"windows/amd64": true,
}

// availableMemory is swapped in tests.
var availableMemory = func(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Support is the result of a capability check.
type Support struct {
	Supported       bool     `json:"supported"`
	Platform        string   `json:"platform"`
	AvailableMemory uint64   `json:"available_memory,omitempty"`
	Reasons         []string `json:"reasons,omitempty"`
}

// SupportCheck holds what CheckSupport needs to know.
type SupportCheck struct {
	Sandbox *storage.Sandbox
	Mirrors []string
	// MinFreeMemory is the available memory required, in bytes. Zero skips the check.
	MinFreeMemory uint64
}

// CheckSupport reports whether this host can run the engine: a build exists
// for the platform, the sandbox is writable and enough memory is free.
func CheckSupport(ctx context.Context, c SupportCheck) Support {
	s := Support{Platform: runtime.GOOS + "/" + runtime.GOARCH}

	if !supportedPlatforms[s.Platform] {
		s.Reasons = append(s.Reasons, fmt.Sprintf("no engine build for %s", s.Platform))
	}
	if len(c.Mirrors) == 0 {
		s.Reasons = append(s.Reasons, "no engine mirrors configured")
	}

	if c.Sandbox == nil {
		s.Reasons = append(s.Reasons, "no sandbox configured")
	} else {
		const probe = ".write-probe"
		if err := c.Sandbox.WriteFile(probe, []byte("ok")); err != nil {
			s.Reasons = append(s.Reasons, fmt.Sprintf("sandbox not writable: %v", err))
		} else {
			_ = c.Sandbox.Remove(probe)
		}
	}

	if avail, err := availableMemory(ctx); err == nil {
		s.AvailableMemory = avail
		if c.MinFreeMemory > 0 && avail < c.MinFreeMemory {
			s.Reasons = append(s.Reasons, fmt.Sprintf("only %d bytes of memory available, need %d", avail, c.MinFreeMemory))
		}
	}

	s.Supported = len(s.Reasons) == 0
	return s
}
