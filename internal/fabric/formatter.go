package fabric

import (
	"fmt"

	"pythia-bench/internal/region"
)

// FormatOptions shape the requests built for an eviction set.
type FormatOptions struct {
	Opcode Opcode
	// Length is bytes moved per request.
	Length uint32
	// Offset is added to every remote address.
	Offset uint64
	// Depth is the completion queue depth; no batch exceeds it.
	Depth int
	// OverrideKey, when non-zero, replaces every entry's own key.
	OverrideKey uint32
}

// Form chains entries into batches of at most Depth requests. Only the last
// request of each batch is signalled, so the caller waits for one completion
// per batch. Writes are posted inline.
func Form(local LocalBuffer, entries []region.Handle, opts FormatOptions) ([]*Batch, error) {
	if opts.Depth < 1 {
		return nil, fmt.Errorf("completion queue depth %d must be positive", opts.Depth)
	}
	if opts.Opcode != OpRead && opts.Opcode != OpWrite {
		return nil, fmt.Errorf("unsupported opcode %v", opts.Opcode)
	}

	batches := make([]*Batch, 0, (len(entries)+opts.Depth-1)/opts.Depth)
	for start := 0; start < len(entries); start += opts.Depth {
		end := start + opts.Depth
		if end > len(entries) {
			end = len(entries)
		}
		b := &Batch{Requests: make([]WorkRequest, end-start)}
		for i, h := range entries[start:end] {
			remote := h
			if opts.OverrideKey != 0 {
				remote.Key = opts.OverrideKey
			}
			b.Requests[i] = WorkRequest{
				Opcode: opts.Opcode,
				Local:  local,
				Remote: remote,
				Length: opts.Length,
				Offset: opts.Offset,
				Inline: opts.Opcode == OpWrite,
			}
		}
		b.Requests[len(b.Requests)-1].Signaled = true
		batches = append(batches, b)
	}
	return batches, nil
}
