package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herdctl/herd/pkg/types"
)

func TestParseSingleMode(t *testing.T) {
	input := `# training jobs
1
python train.py --epochs 10
20

1
python eval.py  # second task, same queue
10

2
bash {work_dir}/prep.sh
python train.py --big
40
`

	defs, err := Parse(types.ModeSingle, []byte(input))
	require.NoError(t, err)
	require.Len(t, defs, 3)

	assert.Equal(t, 1, defs[0].QueueID)
	assert.Equal(t, []string{"python train.py --epochs 10"}, defs[0].Commands)
	assert.Equal(t, 20, defs[0].MemoryGB)
	assert.Equal(t, 1, defs[0].GPUCount)

	assert.Equal(t, 1, defs[1].QueueID)
	assert.Equal(t, []string{"python eval.py  # second task, same queue"}, defs[1].Commands)
	assert.Equal(t, 10, defs[1].MemoryGB)

	assert.Equal(t, 2, defs[2].QueueID)
	assert.Len(t, defs[2].Commands, 2)
	assert.Equal(t, 40, defs[2].MemoryGB)
}

func TestParseMultiMode(t *testing.T) {
	input := `3   # queue id
torchrun --nproc_per_node=2 train.py
2   # gpu count
30  # memory
`

	defs, err := Parse(types.ModeMulti, []byte(input))
	require.NoError(t, err)
	require.Len(t, defs, 1)

	assert.Equal(t, 3, defs[0].QueueID)
	assert.Equal(t, 2, defs[0].GPUCount)
	assert.Equal(t, 30, defs[0].MemoryGB)
	assert.Equal(t, []string{"torchrun --nproc_per_node=2 train.py"}, defs[0].Commands)
}

func TestParseBlockOrderWithinQueue(t *testing.T) {
	input := "1\nfirst\n10\n\n1\nsecond\n10\n"

	defs, err := Parse(types.ModeSingle, []byte(input))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "first", defs[0].Commands[0])
	assert.Equal(t, "second", defs[1].Commands[0])
}

func TestParseEmptyFile(t *testing.T) {
	defs, err := Parse(types.ModeSingle, []byte("# only comments\n\n\n"))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		mode    types.Mode
		input   string
		wantErr error
	}{
		{
			name:    "too few lines single",
			mode:    types.ModeSingle,
			input:   "1\n20\n",
			wantErr: ErrMalformedBlock,
		},
		{
			name:    "too few lines multi",
			mode:    types.ModeMulti,
			input:   "1\ncmd\n20\n",
			wantErr: ErrMalformedBlock,
		},
		{
			name:    "non-integer queue id",
			mode:    types.ModeSingle,
			input:   "one\ncmd\n20\n",
			wantErr: ErrNonIntegerWhereExpect,
		},
		{
			name:    "non-integer memory",
			mode:    types.ModeSingle,
			input:   "1\ncmd\nlots\n",
			wantErr: ErrNonIntegerWhereExpect,
		},
		{
			name:    "zero gpu count",
			mode:    types.ModeMulti,
			input:   "1\ncmd\n0\n20\n",
			wantErr: ErrMalformedBlock,
		},
		{
			name:    "second block malformed",
			mode:    types.ModeSingle,
			input:   "1\ncmd\n20\n\n2\nx\n",
			wantErr: ErrMalformedBlock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.mode, []byte(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseIntTrailingComment(t *testing.T) {
	n, err := parseInt("memory_gb", "40 # biggest model")
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	_, err = parseInt("memory_gb", "# nothing here")
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}
