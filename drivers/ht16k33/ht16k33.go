// Package ht16k33 provides a minimal driver for the Holtek HT16K33
// RAM-mapped LED controller with key scan.
//
// Design notes (datasheet references):
// • I2C, up to 400kHz; every command is a single byte write.
// • 16 bytes of display RAM from pointer 0x00, 8 commons x 16 rows.
// • 6 bytes of key RAM from pointer 0x40, 3 key-scan lines x 13 keys.
// • Each method issues exactly one bus transaction.
package ht16k33

import (
	"fmt"

	"trellis-go/errcode"

	"tinygo.org/x/drivers"
)

// Dev is one HT16K33 on an I2C bus.
type Dev struct {
	bus  drivers.I2C
	addr uint16

	// Fixed buffers to avoid per-call heap allocations.
	w [1 + DisplayRAMSize]byte
}

// ValidAddress reports whether addr is one of the strappable addresses.
func ValidAddress(addr uint16) bool {
	return addr >= AddressMin && addr <= AddressMax
}

// New binds a Dev to bus. It does not touch the chip.
func New(bus drivers.I2C, addr uint16) (*Dev, error) {
	if bus == nil {
		return nil, errcode.New(errcode.Configuration, "ht16k33.New", "nil bus")
	}
	if !ValidAddress(addr) {
		return nil, errcode.New(errcode.Configuration, "ht16k33.New",
			fmt.Sprintf("address 0x%02X outside 0x%02X..0x%02X", addr, AddressMin, AddressMax))
	}
	return &Dev{bus: bus, addr: addr}, nil
}

func (d *Dev) Address() uint16 { return d.addr }

// Oscillator switches the internal system oscillator.
func (d *Dev) Oscillator(on bool) error {
	c := byte(cmdSystemSetup)
	if on {
		c |= sysOscillatorOn
	}
	return d.command("ht16k33.Oscillator", c)
}

// Display switches the LED outputs and selects the blink rate.
func (d *Dev) Display(on bool, blink BlinkRate) error {
	if !blink.Valid() {
		return errcode.New(errcode.OutOfRange, "ht16k33.Display",
			fmt.Sprintf("blink rate %d outside 0..3", blink))
	}
	c := byte(cmdDisplaySetup) | byte(blink)<<1
	if on {
		c |= dispOn
	}
	return d.command("ht16k33.Display", c)
}

// Brightness sets the PWM duty cycle, 0 (1/16) to 15 (16/16).
func (d *Dev) Brightness(level uint8) error {
	if level > MaxBrightness {
		return errcode.New(errcode.OutOfRange, "ht16k33.Brightness",
			fmt.Sprintf("brightness %d outside 0..%d", level, MaxBrightness))
	}
	return d.command("ht16k33.Brightness", cmdDimming|level)
}

// WriteRAM replaces the whole display RAM in one transaction.
func (d *Dev) WriteRAM(ram *[DisplayRAMSize]byte) error {
	d.w[0] = addrDisplayRAM
	copy(d.w[1:], ram[:])
	return d.tx("ht16k33.WriteRAM", d.w[:], nil)
}

// ReadKeys fetches the key RAM with a pointer write and a repeated-start read.
func (d *Dev) ReadKeys(keys *[KeyRAMSize]byte) error {
	d.w[0] = addrKeyRAM
	return d.tx("ht16k33.ReadKeys", d.w[:1], keys[:])
}

// Halt blanks the display and stops the oscillator (standby).
func (d *Dev) Halt() error {
	if err := d.Display(false, BlinkOff); err != nil {
		return err
	}
	return d.Oscillator(false)
}

func (d *Dev) command(op string, c byte) error {
	d.w[0] = c
	return d.tx(op, d.w[:1], nil)
}

func (d *Dev) tx(op string, w, r []byte) error {
	err := d.bus.Tx(d.addr, w, r)
	if err == nil {
		return nil
	}
	// Timeouts and closed queues stay reachable through the chain.
	return errcode.Wrap(errcode.Communication, op, err)
}
