package suite

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/codecconf/internal/models"
)

// HostInfo fingerprints the machine a run executes on. Fields that cannot
// be read are left at their zero value.
func HostInfo(ctx context.Context) models.Host {
	h := models.Host{
		Platform:   runtime.GOOS,
		KernelArch: runtime.GOARCH,
		CPUCores:   runtime.NumCPU(),
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		h.Hostname = info.Hostname
		if info.Platform != "" {
			h.Platform = info.Platform + " " + info.PlatformVersion
		}
		if info.KernelArch != "" {
			h.KernelArch = info.KernelArch
		}
	}
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		h.CPUModel = cpus[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		h.CPUCores = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemoryTotal = vm.Total
	}
	return h
}
