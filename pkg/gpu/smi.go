package gpu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/herdctl/herd/pkg/log"
)

const smiTimeout = 10 * time.Second

// SMIProbe queries devices through the nvidia-smi CLI in CSV mode.
type SMIProbe struct {
	binary string
}

// NewSMIProbe creates a probe backed by the nvidia-smi binary on PATH.
func NewSMIProbe() *SMIProbe {
	return &SMIProbe{binary: "nvidia-smi"}
}

// ListDevices returns the visible device ids. CUDA_VISIBLE_DEVICES, when
// set, overrides probing so the scheduler sees the same world its
// children will.
func (p *SMIProbe) ListDevices() ([]int, error) {
	if visible := os.Getenv("CUDA_VISIBLE_DEVICES"); visible != "" {
		ids, err := parseIDList(visible)
		if err == nil {
			sort.Ints(ids)
			return ids, nil
		}
		gpuLogger := log.WithComponent("gpu")
		gpuLogger.Warn().Str("cuda_visible_devices", visible).
			Msg("ignoring unparseable CUDA_VISIBLE_DEVICES")
	}

	out, err := p.query("--query-gpu=index", "--format=csv,noheader,nounits")
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, line := range splitLines(out) {
		id, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("failed to parse device index %q: %w", line, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Device returns one device snapshot. All scalar fields come from a
// single query; the process list is a second query joined afterwards.
func (p *SMIProbe) Device(id int) (DeviceSnapshot, error) {
	out, err := p.query(
		"--query-gpu=index,name,temperature.gpu,utilization.gpu,memory.total,memory.used,memory.free,power.draw,power.limit",
		"--format=csv,noheader,nounits",
		fmt.Sprintf("--id=%d", id),
	)
	if err != nil {
		return DeviceSnapshot{}, err
	}

	lines := splitLines(out)
	if len(lines) == 0 {
		return DeviceSnapshot{}, fmt.Errorf("%w: no output for device %d", ErrUnavailable, id)
	}

	snap, err := parseDeviceLine(lines[0])
	if err != nil {
		return DeviceSnapshot{}, fmt.Errorf("device %d: %w", id, err)
	}

	snap.Processes = p.computeProcesses(id)
	return snap, nil
}

// ForeignPythonProcesses returns pids of python processes owned by
// username on the device. Process attribution failures (races with
// process exit, permission denials) skip the pid.
func (p *SMIProbe) ForeignPythonProcesses(deviceID int, username string) ([]int, error) {
	procs := p.computeProcesses(deviceID)

	var pids []int
	for _, pr := range procs {
		if pr.Username == username && strings.Contains(strings.ToLower(pr.Name), "python") {
			pids = append(pids, pr.PID)
		}
	}
	return pids, nil
}

// computeProcesses lists compute processes on a device, resolving pid
// ownership through the process table. A pid that vanished between the
// query and the lookup is dropped.
func (p *SMIProbe) computeProcesses(deviceID int) []Process {
	out, err := p.query(
		"--query-compute-apps=pid,used_memory",
		"--format=csv,noheader,nounits",
		fmt.Sprintf("--id=%d", deviceID),
	)
	if err != nil {
		deviceLogger := log.WithDevice(deviceID)
		deviceLogger.Debug().Err(err).Msg("failed to list compute processes")
		return nil
	}

	var procs []Process
	for _, line := range splitLines(out) {
		fields := strings.Split(line, ",")
		if len(fields) < 1 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}

		pr := Process{PID: pid}
		if len(fields) > 1 {
			if mb, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64); err == nil {
				pr.UsedGB = mb / 1024
			}
		}

		proc, err := process.NewProcess(int32(pid))
		if err != nil {
			continue
		}
		if user, err := proc.Username(); err == nil {
			pr.Username = user
		}
		if name, err := proc.Name(); err == nil {
			pr.Name = name
		}
		procs = append(procs, pr)
	}
	return procs
}

func (p *SMIProbe) query(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), smiTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.binary, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return string(out), nil
}

func parseDeviceLine(line string) (DeviceSnapshot, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 9 {
		return DeviceSnapshot{}, fmt.Errorf("%w: short device record %q", ErrUnavailable, line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	index, err := strconv.Atoi(fields[0])
	if err != nil {
		return DeviceSnapshot{}, fmt.Errorf("failed to parse device index: %w", err)
	}

	snap := DeviceSnapshot{
		Index:          index,
		Name:           fields[1],
		Temperature:    parseFloatField(fields[2]),
		UtilizationPct: parseFloatField(fields[3]),
		MemoryTotalGB:  parseFloatField(fields[4]) / 1024,
		MemoryUsedGB:   parseFloatField(fields[5]) / 1024,
		MemoryFreeGB:   parseFloatField(fields[6]) / 1024,
		PowerDraw:      parseFloatField(fields[7]),
		PowerLimit:     parseFloatField(fields[8]),
	}
	return snap, nil
}

// parseFloatField tolerates the "[N/A]" markers nvidia-smi emits for
// unsupported sensors.
func parseFloatField(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseIDList(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
