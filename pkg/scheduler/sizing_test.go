package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/herdctl/herd/pkg/types"
)

func TestChooseDevices(t *testing.T) {
	tests := []struct {
		name         string
		probed       []int
		gpuLeft      int
		minGPU       int
		maxGPU       int
		wantChosen   []int
		wantReserved []int
	}{
		{
			name:   "leave gpu_left for others",
			probed: []int{0, 1, 2, 3, 4, 5, 6, 7}, gpuLeft: 2, minGPU: 1, maxGPU: 8,
			wantChosen: []int{0, 1, 2, 3, 4, 5}, wantReserved: []int{6, 7},
		},
		{
			name:   "min_gpu floors the claim",
			probed: []int{0, 1, 2, 3}, gpuLeft: 3, minGPU: 3, maxGPU: 8,
			wantChosen: []int{0, 1, 2}, wantReserved: []int{3},
		},
		{
			name:   "max_gpu caps the claim",
			probed: []int{0, 1, 2, 3, 4, 5, 6, 7}, gpuLeft: 0, minGPU: 1, maxGPU: 4,
			wantChosen: []int{0, 1, 2, 3}, wantReserved: []int{4, 5, 6, 7},
		},
		{
			name:   "never below one device",
			probed: []int{0, 1}, gpuLeft: 5, minGPU: 0, maxGPU: 8,
			wantChosen: []int{0}, wantReserved: []int{1},
		},
		{
			name:   "never above probed count",
			probed: []int{0, 1}, gpuLeft: 0, minGPU: 3, maxGPU: 8,
			wantChosen: []int{0, 1}, wantReserved: nil,
		},
		{
			name:   "lowest ids chosen regardless of probe order",
			probed: []int{5, 1, 3, 0}, gpuLeft: 2, minGPU: 1, maxGPU: 8,
			wantChosen: []int{0, 1}, wantReserved: []int{3, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &types.SchedulerConfig{GPULeft: tt.gpuLeft, MinGPU: tt.minGPU, MaxGPU: tt.maxGPU}
			chosen, reserved := ChooseDevices(tt.probed, cfg)
			assert.Equal(t, tt.wantChosen, chosen)
			if tt.wantReserved == nil {
				assert.Empty(t, reserved)
			} else {
				assert.Equal(t, tt.wantReserved, reserved)
			}
		})
	}
}

func TestChooseDevicesEmpty(t *testing.T) {
	chosen, reserved := ChooseDevices(nil, &types.SchedulerConfig{MinGPU: 1, MaxGPU: 8})
	assert.Nil(t, chosen)
	assert.Nil(t, reserved)
}

func TestEligibleDevices(t *testing.T) {
	probed := []int{0, 1, 2, 3}

	cfg := &types.SchedulerConfig{CompeteGPUs: []int{1, 3, 9}}
	assert.Equal(t, []int{1, 3}, EligibleDevices(probed, cfg))

	cfg = &types.SchedulerConfig{UseAllGPUs: true, CompeteGPUs: []int{1}}
	assert.Equal(t, probed, EligibleDevices(probed, cfg), "use_all_gpus ignores the whitelist")

	cfg = &types.SchedulerConfig{}
	assert.Equal(t, probed, EligibleDevices(probed, cfg), "empty whitelist means no restriction")
}
