package fabric

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pythia-bench/internal/region"
)

// ErrCompletion marks a completion that came back with a non-success status.
// The probe engine treats it as fatal.
var ErrCompletion = errors.New("work completion failed")

type Opcode int

const (
	OpRead Opcode = iota + 1
	OpWrite
)

func (o Opcode) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return fmt.Sprintf("opcode(%d)", int(o))
	}
}

func ParseOpcode(s string) (Opcode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "":
		return OpRead, nil
	case "write":
		return OpWrite, nil
	default:
		return 0, fmt.Errorf("unknown opcode %q", s)
	}
}

// LocalBuffer is registered local memory that requests read into or write
// out of.
type LocalBuffer struct {
	Address uint64
	Length  uint32
	Key     uint32
}

type WorkRequest struct {
	Opcode   Opcode
	Local    LocalBuffer
	Remote   region.Handle
	Length   uint32
	Offset   uint64
	Signaled bool
	Inline   bool
}

// Batch is a chain of requests submitted with one post.
type Batch struct {
	Requests []WorkRequest
}

// Signals counts the completions the batch will generate.
func (b *Batch) Signals() int {
	n := 0
	for _, wr := range b.Requests {
		if wr.Signaled {
			n++
		}
	}
	return n
}

type Status int

const (
	StatusSuccess Status = iota
	StatusRemoteAccessError
	StatusLocalError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRemoteAccessError:
		return "remote access error"
	case StatusLocalError:
		return "local error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type Completion struct {
	Status Status
	Remote region.Handle
}

// Channel is one queue pair plus its completion queue. Completions are
// observed in submission order.
type Channel interface {
	Post(b *Batch) error
	// Poll blocks until count completions are available and returns them.
	Poll(count int) ([]Completion, error)
}

// Clock is what latency is measured against.
type Clock interface {
	Now() time.Time
}

type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// Read issues one signalled read of remote and waits for it.
func Read(ch Channel, local LocalBuffer, remote region.Handle, length uint32, offset uint64) error {
	return one(ch, WorkRequest{Opcode: OpRead, Local: local, Remote: remote, Length: length, Offset: offset, Signaled: true})
}

// Access issues op against every handle, one request each, then waits for all
// of them.
func Access(ch Channel, op Opcode, local LocalBuffer, remotes []region.Handle, length uint32, offset uint64) error {
	if len(remotes) == 0 {
		return nil
	}
	b := &Batch{Requests: make([]WorkRequest, len(remotes))}
	for i, r := range remotes {
		b.Requests[i] = WorkRequest{Opcode: op, Local: local, Remote: r, Length: length, Offset: offset, Signaled: true}
	}
	if err := ch.Post(b); err != nil {
		return err
	}
	return wait(ch, len(remotes))
}

// Issue posts every batch in order and waits for each batch's completion
// before posting the next.
func Issue(ch Channel, batches []*Batch) error {
	for i, b := range batches {
		if err := ch.Post(b); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		if err := wait(ch, b.Signals()); err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
	}
	return nil
}

func one(ch Channel, wr WorkRequest) error {
	if err := ch.Post(&Batch{Requests: []WorkRequest{wr}}); err != nil {
		return err
	}
	return wait(ch, 1)
}

func wait(ch Channel, n int) error {
	if n == 0 {
		return nil
	}
	comps, err := ch.Poll(n)
	if err != nil {
		return err
	}
	for _, c := range comps {
		if c.Status != StatusSuccess {
			return fmt.Errorf("%w: %s on %v", ErrCompletion, c.Status, c.Remote)
		}
	}
	return nil
}

// Device is a NIC as one role sees it: it registers memory, opens queue
// pairs and tells time.
type Device interface {
	region.Registrar
	Channel() Channel
	Clock() Clock
}

// OpenDevice opens the named provider. Only the in-process simulator is
// built in; hardware queue-pair bring-up lives outside this module.
func OpenDevice(provider string, sim SimConfig) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "sim", "":
		nic, err := NewSimNIC(sim)
		if err != nil {
			return nil, err
		}
		return nic, nil
	default:
		return nil, fmt.Errorf("fabric provider %q is not available in this build", provider)
	}
}

// LocalRegion registers a page of local memory for requests to read into.
func LocalRegion(dev Device, length uint64) (LocalBuffer, error) {
	addr, err := dev.Allocate(length)
	if err != nil {
		return LocalBuffer{}, fmt.Errorf("local buffer: %w", err)
	}
	key, err := dev.Register(addr, length)
	if err != nil {
		return LocalBuffer{}, fmt.Errorf("local buffer: %w", err)
	}
	return LocalBuffer{Address: addr, Length: uint32(length), Key: key}, nil
}
