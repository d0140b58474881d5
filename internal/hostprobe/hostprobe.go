// Package hostprobe samples host-level resource usage through short shell
// probes. Every probe is best-effort: a missing tool or timeout leaves the
// corresponding field nil rather than failing the sample.
package hostprobe

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const probeTimeout = 2 * time.Second

// Resources is one host usage sample. Nil fields mean the probe could not
// produce a numeric value on this host.
type Resources struct {
	CPUPercent     *float64 `json:"cpu_percent"`
	RAMUsedMB      *float64 `json:"ram_used_mb"`
	RAMTotalMB     *float64 `json:"ram_total_mb"`
	GPUUtilPercent *float64 `json:"gpu_util_percent"`
	GPUMemUsedMB   *float64 `json:"gpu_mem_used_mb"`
	GPUMemTotalMB  *float64 `json:"gpu_mem_total_mb"`
	GPUSource      string   `json:"gpu_source"`
}

// Prober produces host resource samples.
type Prober interface {
	Probe(ctx context.Context) Resources
}

// commandRunner executes one command and returns its trimmed stdout. Errors
// and timeouts collapse to an empty string.
type commandRunner func(ctx context.Context, name string, args ...string) string

// ExecProber probes via ps, sysctl, and nvidia-smi when present.
type ExecProber struct {
	run     commandRunner
	gpuPath func(string) (string, error)
	log     *zap.Logger
}

// NewExecProber builds the default shell-backed prober.
func NewExecProber(log *zap.Logger) *ExecProber {
	return &ExecProber{
		run:     runCommand,
		gpuPath: exec.LookPath,
		log:     log.Named("hostprobe"),
	}
}

func runCommand(ctx context.Context, name string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Probe collects one sample.
func (p *ExecProber) Probe(ctx context.Context) Resources {
	var sample Resources

	sample.CPUPercent = parseFloatPtr(p.run(ctx, "sh", "-lc",
		`ps -A -o %cpu= | awk '{s+=$1} END {printf "%.1f", s}'`))

	if rss := parseFloatPtr(p.run(ctx, "sh", "-lc",
		`ps -A -o rss= | awk '{s+=$1} END {printf "%.0f", s}'`)); rss != nil {
		used := *rss / 1024.0
		sample.RAMUsedMB = &used
	}
	if total := parseFloatPtr(p.run(ctx, "sysctl", "-n", "hw.memsize")); total != nil {
		mb := *total / (1024.0 * 1024.0)
		sample.RAMTotalMB = &mb
	}

	sample.GPUSource = "none"
	smi, err := p.gpuPath("nvidia-smi")
	if err != nil || smi == "" {
		return sample
	}
	raw := p.run(ctx, smi,
		"--query-gpu=utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits")
	if raw == "" {
		return sample
	}
	firstLine := raw
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		firstLine = raw[:idx]
	}
	parts := strings.Split(firstLine, ",")
	fields := make([]*float64, 3)
	parsedAny := false
	for i := 0; i < len(parts) && i < 3; i++ {
		fields[i] = parseFloatPtr(strings.TrimSpace(parts[i]))
		if fields[i] != nil {
			parsedAny = true
		}
	}
	sample.GPUUtilPercent = fields[0]
	sample.GPUMemUsedMB = fields[1]
	sample.GPUMemTotalMB = fields[2]
	if parsedAny {
		sample.GPUSource = "nvidia-smi"
	} else {
		sample.GPUSource = "nvidia-smi-unparsed"
		p.log.Debug("gpu query returned unparsable output", zap.String("raw", firstLine))
	}
	return sample
}

func parseFloatPtr(text string) *float64 {
	if text == "" {
		return nil
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	return &value
}
