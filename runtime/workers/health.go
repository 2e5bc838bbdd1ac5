package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/0rooe/chat/contract"
)

// HealthWorker logs self stats (RSS, CPU, OS status) together with the
// current online population on a fixed interval. Enough to spot a leak
// or a presence map that never shrinks without wiring a metrics stack.
type HealthWorker struct {
	log            *slog.Logger
	registry       contract.IPresenceRegistry
	metricInterval time.Duration
}

func NewHealthWorker(log *slog.Logger, registry contract.IPresenceRegistry,
	metricInterval time.Duration) *HealthWorker {
	return &HealthWorker{log: log, registry: registry, metricInterval: metricInterval}
}

func (w *HealthWorker) Run(ctx context.Context) error {
	w.log.Info("Starting health worker", "interval", w.metricInterval)
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, status, err := getSelfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.log.Info("Node health",
				"pid", os.Getpid(),
				"pid_status", status,
				"cpu_percent", cpu,
				"ram_bytes", rss,
				"online_users", len(w.registry.OnlineUsers()),
			)
		}
	}
}

// getSelfStats retrieves technical metrics (Memory, CPU, and OS Status) for the given process.
func getSelfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}

	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
