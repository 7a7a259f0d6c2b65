package protocol

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"

	"gps-station/internal/codec"
	"gps-station/internal/observability"
)

// SampleSize is how many bytes the listener reads before choosing a protocol.
const SampleSize = 512

// DefaultExceptionThreshold is the number of faults a session tolerates.
const DefaultExceptionThreshold = 10

// Protocol is everything a session needs to speak one tracker dialect.
type Protocol interface {
	Name() string
	// BytesIsSelf reports whether the first bytes of a connection belong to this protocol.
	BytesIsSelf(sample []byte) bool
	Decode(raw []byte) (*codec.Location, error)
	ReadFrame(r *bufio.Reader) ([]byte, error)
	// Ack returns the frame written back after loc was accepted, or nil.
	Ack(loc *codec.Location) []byte
	ExceptionThreshold() int
}

// Registry is the ordered set of protocols the listener tries.
type Registry struct {
	protocols []Protocol
	logger    *slog.Logger
}

func NewRegistry(lg *slog.Logger, protocols ...Protocol) *Registry {
	return &Registry{protocols: protocols, logger: lg.With("component", "protocol")}
}

// Match returns the first protocol claiming sample. A predicate that panics is
// reported and treated as "not mine".
func (r *Registry) Match(sample []byte) (Protocol, bool) {
	for _, p := range r.protocols {
		if r.claims(p, sample) {
			return p, true
		}
	}
	return nil, false
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.protocols))
	for _, p := range r.protocols {
		names = append(names, p.Name())
	}
	return names
}

func (r *Registry) claims(p Protocol, sample []byte) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.Critical(context.Background(), r.logger, "protocol predicate panicked",
				"protocol", p.Name(), "panic", fmt.Sprint(rec), "sample", codec.BytesToHex(sample))
			ok = false
		}
	}()
	return p.BytesIsSelf(sample)
}
