package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/herdctl/herd/pkg/types"
)

// Parser errors. Callers match with errors.Is.
var (
	ErrMalformedBlock        = errors.New("malformed task block")
	ErrMissingRequiredField  = errors.New("missing required field")
	ErrNonIntegerWhereExpect = errors.New("non-integer where integer expected")
)

// Definition is one parsed task block. In single mode GPUCount is always 1.
type Definition struct {
	QueueID  int
	GPUCount int
	MemoryGB int
	Commands []string
}

// Parse converts command-file bytes into task definitions.
//
// Blocks are separated by one or more blank lines; lines whose first
// non-space character is '#' are comments. Within a block, line 1 is the
// queue id and the last line is the memory requirement in GB. In multi
// mode the second-to-last line is the gpu count. Command lines in between
// are passed verbatim to a shell, no meta-escaping. Block order within a
// queue defines task execution order.
func Parse(mode types.Mode, data []byte) ([]Definition, error) {
	var defs []Definition

	for i, block := range splitBlocks(string(data)) {
		def, err := parseBlock(mode, block)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
		defs = append(defs, def)
	}

	return defs, nil
}

func parseBlock(mode types.Mode, lines []string) (Definition, error) {
	min := 3 // queue id, at least one command, memory
	if mode == types.ModeMulti {
		min = 4 // plus gpu count
	}
	if len(lines) < min {
		return Definition{}, fmt.Errorf("%w: got %d lines, need at least %d", ErrMalformedBlock, len(lines), min)
	}

	queueID, err := parseInt("queue id", lines[0])
	if err != nil {
		return Definition{}, err
	}

	def := Definition{QueueID: queueID, GPUCount: 1}

	if mode == types.ModeMulti {
		def.GPUCount, err = parseInt("gpu count", lines[len(lines)-2])
		if err != nil {
			return Definition{}, err
		}
		if def.GPUCount < 1 {
			return Definition{}, fmt.Errorf("%w: gpu count %d", ErrMalformedBlock, def.GPUCount)
		}
		def.Commands = lines[1 : len(lines)-2]
	} else {
		def.Commands = lines[1 : len(lines)-1]
	}

	def.MemoryGB, err = parseInt("memory_gb", lines[len(lines)-1])
	if err != nil {
		return Definition{}, err
	}

	if len(def.Commands) == 0 {
		return Definition{}, fmt.Errorf("%w: no commands", ErrMissingRequiredField)
	}

	return def, nil
}

// splitBlocks splits the file on blank lines and drops comment lines.
// Whitespace-only lines count as blank.
func splitBlocks(content string) [][]string {
	var blocks [][]string
	var current []string

	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, current)
			current = nil
		}
	}

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "#"):
			// comment
		default:
			current = append(current, line)
		}
	}
	flush()

	return blocks
}

// parseInt reads the leading integer token of a line, tolerating a
// trailing "# ..." comment.
func parseInt(field, line string) (int, error) {
	token := line
	if i := strings.IndexByte(token, '#'); i >= 0 {
		token = token[:i]
	}
	token = strings.TrimSpace(token)
	if f := strings.Fields(token); len(f) > 0 {
		token = f[0]
	}
	if token == "" {
		return 0, fmt.Errorf("%w: %s", ErrMissingRequiredField, field)
	}

	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrNonIntegerWhereExpect, field, line)
	}
	return n, nil
}
