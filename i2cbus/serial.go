// Package i2cbus serialises transactions on shared I2C buses.
//
// Every driver in this module talks to hardware through
// tinygo.org/x/drivers.I2C: one Tx is one addressed write-then-read
// exchange. Boards that share a physical bus must never interleave, so
// drivers pass their bus through Serialize, and applications that want a
// dedicated worker with deadlines wrap the bus in a Queue first.
package i2cbus

import (
	"reflect"
	"sync"
	"sync/atomic"

	"tinygo.org/x/drivers"
)

// Serialized is implemented by buses that already allow one transaction
// in flight at a time.
type Serialized interface {
	drivers.I2C
	Stats() Stats
	serialized()
}

// Stats counts transactions seen by a serialiser.
type Stats struct {
	Tx       uint64
	Failed   uint64
	TimedOut uint64
}

type counters struct {
	tx, failed, timedOut atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{Tx: c.tx.Load(), Failed: c.failed.Load(), TimedOut: c.timedOut.Load()}
}

// Serial is a mutex serialiser: callers block until the bus is free.
type Serial struct {
	mu  sync.Mutex
	bus drivers.I2C
	n   counters
}

// NewSerial wraps bus without registering it. Prefer Serialize.
func NewSerial(bus drivers.I2C) *Serial { return &Serial{bus: bus} }

func (s *Serial) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n.tx.Add(1)
	err := s.bus.Tx(addr, w, r)
	if err != nil {
		s.n.failed.Add(1)
	}
	return err
}

func (s *Serial) Stats() Stats { return s.n.snapshot() }
func (s *Serial) serialized()  {}

var (
	sharedMu sync.Mutex
	shared   = map[drivers.I2C]*Serial{}
)

// Serialize returns a serialiser for bus. Buses that already serialise
// are returned unchanged. Pointer buses are shared by identity: every call
// with the same pointer yields the same *Serial, so independent drivers on
// one bus share it. Any other bus value gets a fresh, unshared *Serial;
// such values may hold unhashable state behind an interface.
func Serialize(bus drivers.I2C) Serialized {
	if bus == nil {
		return nil
	}
	if s, ok := bus.(Serialized); ok {
		return s
	}
	if !shareable(bus) {
		return NewSerial(bus)
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if s, ok := shared[bus]; ok {
		return s
	}
	s := NewSerial(bus)
	shared[bus] = s
	return s
}

// Forget drops bus from the shared registry, typically after closing it.
func Forget(bus drivers.I2C) {
	if bus == nil || !shareable(bus) {
		return
	}
	sharedMu.Lock()
	delete(shared, bus)
	sharedMu.Unlock()
}

func shareable(bus drivers.I2C) bool {
	return reflect.TypeOf(bus).Kind() == reflect.Pointer
}
