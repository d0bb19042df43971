// Package ht16k33test emulates HT16K33 chips behind a drivers.I2C bus so
// drivers can be exercised on a host without hardware.
package ht16k33test

import (
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/drivers"
)

// ErrNACK is returned for transactions to an address no chip answers on.
var ErrNACK = errors.New("ht16k33test: address not acknowledged")

// Compile-time check.
var _ drivers.I2C = (*Bus)(nil)

// Chip is the observable state of one emulated HT16K33.
type Chip struct {
	Oscillator bool
	DisplayOn  bool
	Blink      uint8
	Brightness uint8
	RAM        [16]byte
	Keys       [6]byte
}

// Bus hosts emulated chips by address.
type Bus struct {
	mu    sync.Mutex
	chips map[uint16]*Chip

	attempts int
	writes   int
	reads    int

	failErr   error
	failAfter int // transactions left before failErr applies; <0 disables
}

// NewBus creates a bus with one freshly reset chip per address.
func NewBus(addrs ...uint16) *Bus {
	b := &Bus{chips: make(map[uint16]*Chip), failAfter: -1}
	for _, a := range addrs {
		b.chips[a] = &Chip{}
	}
	return b
}

// Tx implements drivers.I2C.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++

	if b.failErr != nil {
		if b.failAfter == 0 {
			return b.failErr
		}
		if b.failAfter > 0 {
			b.failAfter--
		}
	}

	c, ok := b.chips[addr]
	if !ok {
		return fmt.Errorf("%w (0x%02X)", ErrNACK, addr)
	}
	if len(w) == 0 {
		if len(r) > 0 {
			// Read without pointer: the chip starts at the display RAM.
			b.reads++
			copy(r, c.RAM[:])
		}
		return nil
	}

	cmd := w[0]
	switch {
	case cmd <= 0x0F:
		if len(r) > 0 {
			b.reads++
			copy(r, c.RAM[cmd:])
			return nil
		}
		b.writes++
		copy(c.RAM[cmd:], w[1:])
	case cmd&0xF0 == 0x20:
		b.writes++
		c.Oscillator = cmd&0x01 != 0
	case cmd&0xF0 == 0x80:
		b.writes++
		c.DisplayOn = cmd&0x01 != 0
		c.Blink = (cmd >> 1) & 0x03
	case cmd&0xF0 == 0xE0:
		b.writes++
		c.Brightness = cmd & 0x0F
	case cmd >= 0x40 && cmd <= 0x45:
		if len(r) == 0 {
			return fmt.Errorf("ht16k33test: key RAM pointer 0x%02X without read", cmd)
		}
		b.reads++
		copy(r, c.Keys[cmd-0x40:])
	default:
		return fmt.Errorf("ht16k33test: unsupported command 0x%02X", cmd)
	}
	return nil
}

// Chip returns a snapshot of the chip at addr.
func (b *Bus) Chip(addr uint16) (Chip, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chips[addr]
	if !ok {
		return Chip{}, false
	}
	return *c, true
}

// RAM returns the display RAM of the chip at addr.
func (b *Bus) RAM(addr uint16) [16]byte {
	c, _ := b.Chip(addr)
	return c.RAM
}

// SetKey presses (down) or releases one key RAM bit.
func (b *Bus) SetKey(addr uint16, byteIdx, bit uint8, down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chips[addr]
	if !ok || int(byteIdx) >= len(c.Keys) {
		return
	}
	if down {
		c.Keys[byteIdx] |= 1 << bit
	} else {
		c.Keys[byteIdx] &^= 1 << bit
	}
}

// Writes and Reads count successful transactions by direction.
func (b *Bus) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

func (b *Bus) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// Count is the total number of successful transactions.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes + b.reads
}

// Attempts counts every Tx call, including failed and unanswered ones.
func (b *Bus) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// ResetCounts zeroes the transaction counters.
func (b *Bus) ResetCounts() {
	b.mu.Lock()
	b.attempts, b.writes, b.reads = 0, 0, 0
	b.mu.Unlock()
}

// Fail makes every following transaction return err. A nil err clears it.
func (b *Bus) Fail(err error) { b.FailAfter(0, err) }

// FailAfter lets n transactions through, then fails with err.
func (b *Bus) FailAfter(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
	b.failAfter = n
	if err == nil {
		b.failAfter = -1
	}
}
