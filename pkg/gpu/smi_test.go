package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceLine(t *testing.T) {
	line := "0, NVIDIA GeForce RTX 3090, 62, 87, 24576, 18432, 6144, 310.5, 350.0"

	snap, err := parseDeviceLine(line)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.Index)
	assert.Equal(t, "NVIDIA GeForce RTX 3090", snap.Name)
	assert.InDelta(t, 62.0, snap.Temperature, 0.001)
	assert.InDelta(t, 87.0, snap.UtilizationPct, 0.001)
	assert.InDelta(t, 24.0, snap.MemoryTotalGB, 0.001)
	assert.InDelta(t, 18.0, snap.MemoryUsedGB, 0.001)
	assert.InDelta(t, 6.0, snap.MemoryFreeGB, 0.001)
	assert.InDelta(t, 310.5, snap.PowerDraw, 0.001)
	assert.InDelta(t, 350.0, snap.PowerLimit, 0.001)
}

func TestParseDeviceLineNA(t *testing.T) {
	line := "1, Tesla K80, [N/A], 0, 11441, 0, 11441, [N/A], [N/A]"

	snap, err := parseDeviceLine(line)
	require.NoError(t, err)

	assert.Zero(t, snap.Temperature)
	assert.Zero(t, snap.PowerDraw)
	assert.Zero(t, snap.PowerLimit)
	assert.InDelta(t, 11441.0/1024, snap.MemoryFreeGB, 0.001)
}

func TestParseDeviceLineShortRecord(t *testing.T) {
	_, err := parseDeviceLine("0, broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseIDList(t *testing.T) {
	ids, err := parseIDList("0,2, 5")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 5}, ids)

	ids, err = parseIDList("3")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, ids)

	_, err = parseIDList("0,GPU-uuid")
	assert.Error(t, err)
}

func TestListDevicesHonorsVisibleDevices(t *testing.T) {
	t.Setenv("CUDA_VISIBLE_DEVICES", "1,3")

	ids, err := NewSMIProbe().ListDevices()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, ids)
}

func TestSplitLines(t *testing.T) {
	lines := splitLines("a\n\n  b \n\nc\n")
	assert.Equal(t, []string{"a", "b", "c"}, lines)

	assert.Empty(t, splitLines("\n\n"))
}
