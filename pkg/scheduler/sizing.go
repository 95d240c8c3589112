package scheduler

import (
	"sort"

	"github.com/herdctl/herd/pkg/types"
)

// ChooseDevices splits the probed device set into the devices this
// instance may use and the devices left for other users.
//
// K = clamp(min(max_gpu, max(min_gpu, probed-gpu_left)), 1, probed).
// Devices are ordered ascending by id; the K lowest-numbered devices are
// chosen.
func ChooseDevices(probed []int, cfg *types.SchedulerConfig) (chosen, reserved []int) {
	if len(probed) == 0 {
		return nil, nil
	}

	ids := append([]int(nil), probed...)
	sort.Ints(ids)

	k := len(ids) - cfg.GPULeft
	if k < cfg.MinGPU {
		k = cfg.MinGPU
	}
	if k > cfg.MaxGPU {
		k = cfg.MaxGPU
	}
	if k < 1 {
		k = 1
	}
	if k > len(ids) {
		k = len(ids)
	}

	return ids[:k], ids[k:]
}

// EligibleDevices applies the compete_gpus whitelist to the probed set.
// With use_all_gpus set the whitelist is ignored.
func EligibleDevices(probed []int, cfg *types.SchedulerConfig) []int {
	if cfg.UseAllGPUs || len(cfg.CompeteGPUs) == 0 {
		return probed
	}

	allow := make(map[int]bool, len(cfg.CompeteGPUs))
	for _, id := range cfg.CompeteGPUs {
		allow[id] = true
	}

	var out []int
	for _, id := range probed {
		if allow[id] {
			out = append(out, id)
		}
	}
	return out
}
