// Package trellis drives Adafruit Trellis style LED/button keypads: one
// HT16K33 per board, any number of boards on a shared I2C bus.
//
// LED changes are buffered and reach the hardware on Show (or immediately
// with AutoShow). Key state is refreshed only by ReadButtons, which also
// reports presses and releases since the previous poll. Nothing happens in
// the background.
//
// Every coordinate is checked before any bus traffic; a bad coordinate is
// an errcode.OutOfRange error and never reaches the bus. Bus failures are
// errcode.Communication errors and are not retried.
package trellis

import (
	"fmt"
	"sync"

	"trellis-go/drivers/ht16k33"
	"trellis-go/errcode"
	"trellis-go/i2cbus"

	"github.com/rs/zerolog"
	"tinygo.org/x/drivers"
)

// BlinkRate re-exports the chip's blink settings.
type BlinkRate = ht16k33.BlinkRate

const (
	BlinkOff    = ht16k33.BlinkOff
	Blink2Hz    = ht16k33.Blink2Hz
	Blink1Hz    = ht16k33.Blink1Hz
	BlinkHalfHz = ht16k33.BlinkHalfHz
)

// Config describes one board. Use DefaultConfig as a starting point.
type Config struct {
	// Address defaults to 0x70 if zero.
	Address uint16
	// Layout defaults to Trellis4x4 if nil.
	Layout Layout
	// AutoShow pushes every LED change to the hardware immediately.
	AutoShow bool
	// Brightness 0..15 applied by Configure.
	Brightness uint8
	// Blink rate applied by Configure.
	Blink BlinkRate
	// Logger receives debug output. nil disables logging.
	Logger *zerolog.Logger
}

// DefaultConfig matches a single Trellis on its factory address.
func DefaultConfig() Config {
	return Config{
		Address:    ht16k33.AddressDefault,
		Layout:     Trellis4x4,
		Brightness: ht16k33.MaxBrightness,
		Blink:      BlinkOff,
	}
}

// Changes lists keys that went down or up between two polls.
type Changes struct {
	Pressed  []Coord
	Released []Coord
}

func (c Changes) Empty() bool { return len(c.Pressed) == 0 && len(c.Released) == 0 }

// Device is one board.
type Device struct {
	mu     sync.Mutex
	chip   *ht16k33.Dev
	layout Layout
	rows   int
	cols   int
	log    zerolog.Logger

	autoShow   bool
	brightness uint8
	blink      BlinkRate

	ram   [ht16k33.DisplayRAMSize]byte
	dirty bool

	prev, cur [ht16k33.KeyRAMSize]byte
}

// New validates cfg and binds a Device to bus. It does not touch the
// hardware; call Configure before use. The bus is shared through
// i2cbus.Serialize so boards on one bus never interleave transactions.
func New(bus drivers.I2C, cfg Config) (*Device, error) {
	const op = "trellis.New"
	if bus == nil {
		return nil, errcode.New(errcode.Configuration, op, "nil bus")
	}
	if cfg.Address == 0 {
		cfg.Address = ht16k33.AddressDefault
	}
	if cfg.Layout == nil {
		cfg.Layout = Trellis4x4
	}
	if err := ValidateLayout(cfg.Layout); err != nil {
		return nil, err
	}
	if cfg.Brightness > ht16k33.MaxBrightness {
		return nil, errcode.New(errcode.Configuration, op,
			fmt.Sprintf("brightness %d outside 0..%d", cfg.Brightness, ht16k33.MaxBrightness))
	}
	if !cfg.Blink.Valid() {
		return nil, errcode.New(errcode.Configuration, op, fmt.Sprintf("blink rate %d outside 0..3", cfg.Blink))
	}
	chip, err := ht16k33.New(i2cbus.Serialize(bus), cfg.Address)
	if err != nil {
		return nil, err
	}
	d := &Device{
		chip:       chip,
		layout:     cfg.Layout,
		rows:       cfg.Layout.Rows(),
		cols:       cfg.Layout.Cols(),
		log:        zerolog.Nop(),
		autoShow:   cfg.AutoShow,
		brightness: cfg.Brightness,
		blink:      cfg.Blink,
		dirty:      true,
	}
	if cfg.Logger != nil {
		d.log = cfg.Logger.With().Str("board", fmt.Sprintf("0x%02X", cfg.Address)).Logger()
	}
	return d, nil
}

// Configure brings the chip up: LEDs cleared, oscillator on, display on
// with the configured blink rate and brightness.
func (d *Device) Configure() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ram = [ht16k33.DisplayRAMSize]byte{}
	d.dirty = true
	if err := d.chip.Oscillator(true); err != nil {
		return err
	}
	if err := d.chip.Display(true, d.blink); err != nil {
		return err
	}
	if err := d.chip.Brightness(d.brightness); err != nil {
		return err
	}
	if err := d.showLocked(); err != nil {
		return err
	}
	d.log.Debug().Uint8("brightness", d.brightness).Stringer("blink", d.blink).Msg("configured")
	return nil
}

func (d *Device) Address() uint16 { return d.chip.Address() }
func (d *Device) Rows() int       { return d.rows }
func (d *Device) Cols() int       { return d.cols }
func (d *Device) Size() int       { return d.rows * d.cols }

// CoordOf converts a row-major key number to a coordinate.
func (d *Device) CoordOf(n int) (Coord, error) {
	if n < 0 || n >= d.Size() {
		return Coord{}, errcode.New(errcode.OutOfRange, "trellis.CoordOf",
			fmt.Sprintf("key %d outside 0..%d", n, d.Size()-1))
	}
	return Coord{Row: n / d.cols, Col: n % d.cols}, nil
}

// Number converts a coordinate to its row-major key number.
func (d *Device) Number(c Coord) (int, error) {
	if err := d.check("trellis.Number", c); err != nil {
		return 0, err
	}
	return c.Row*d.cols + c.Col, nil
}

func (d *Device) check(op string, c Coord) error {
	if c.Row < 0 || c.Row >= d.rows || c.Col < 0 || c.Col >= d.cols {
		return errcode.New(errcode.OutOfRange, op,
			fmt.Sprintf("%v outside %dx%d", c, d.rows, d.cols))
	}
	return nil
}

// ---------------- LEDs ----------------

// SetLED changes one LED in the buffer.
func (d *Device) SetLED(c Coord, on bool) error {
	if err := d.check("trellis.SetLED", c); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setBit(d.layout.LEDBit(c), on)
	return d.autoShowLocked()
}

// LED reports the buffered state of one LED.
func (d *Device) LED(c Coord) (bool, error) {
	if err := d.check("trellis.LED", c); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.layout.LEDBit(c)
	return d.ram[b.Byte]&b.Mask != 0, nil
}

// Toggle inverts one LED in the buffer.
func (d *Device) Toggle(c Coord) error {
	if err := d.check("trellis.Toggle", c); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.layout.LEDBit(c)
	d.setBit(b, d.ram[b.Byte]&b.Mask == 0)
	return d.autoShowLocked()
}

// Fill sets every LED of the board.
func (d *Device) Fill(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for r := 0; r < d.rows; r++ {
		for c := 0; c < d.cols; c++ {
			d.setBit(d.layout.LEDBit(Coord{r, c}), on)
		}
	}
	return d.autoShowLocked()
}

// Show writes the LED buffer in one transaction if it changed since the
// last successful Show. After a failure the whole buffer is sent again on
// the next call; nothing is assumed to have reached the chip.
func (d *Device) Show() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.showLocked()
}

// Dirty reports whether the buffer holds changes not yet shown.
func (d *Device) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

func (d *Device) setBit(b Bit, on bool) {
	old := d.ram[b.Byte]
	if on {
		d.ram[b.Byte] |= b.Mask
	} else {
		d.ram[b.Byte] &^= b.Mask
	}
	if d.ram[b.Byte] != old {
		d.dirty = true
	}
}

func (d *Device) autoShowLocked() error {
	if !d.autoShow {
		return nil
	}
	return d.showLocked()
}

func (d *Device) showLocked() error {
	if !d.dirty {
		return nil
	}
	if err := d.chip.WriteRAM(&d.ram); err != nil {
		d.log.Debug().Err(err).Msg("show failed")
		return err
	}
	d.dirty = false
	return nil
}

// SetAutoShow toggles immediate LED updates.
func (d *Device) SetAutoShow(on bool) {
	d.mu.Lock()
	d.autoShow = on
	d.mu.Unlock()
}

func (d *Device) AutoShow() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autoShow
}

// ---------------- Display settings ----------------

// SetBrightness sets the LED duty cycle, 0..15.
func (d *Device) SetBrightness(level uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.chip.Brightness(level); err != nil {
		return err
	}
	d.brightness = level
	return nil
}

func (d *Device) Brightness() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brightness
}

// SetBlinkRate sets the hardware blink rate.
func (d *Device) SetBlinkRate(rate BlinkRate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.chip.Display(true, rate); err != nil {
		return err
	}
	d.blink = rate
	return nil
}

func (d *Device) BlinkRate() BlinkRate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blink
}

// Halt blanks the board and stops its oscillator. Configure restarts it.
func (d *Device) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chip.Halt()
}

// ---------------- Keys ----------------

// ReadButtons polls the key RAM in one transaction and returns the keys
// pressed and released since the previous poll. On error the key state
// is left as it was. The poll and the commit happen under one lock.
func (d *Device) ReadButtons() (Changes, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys, err := d.pollKeysLocked()
	if err != nil {
		return Changes{}, err
	}
	return d.commitKeysLocked(keys), nil
}

func (d *Device) pollKeys() ([ht16k33.KeyRAMSize]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pollKeysLocked()
}

func (d *Device) pollKeysLocked() ([ht16k33.KeyRAMSize]byte, error) {
	var keys [ht16k33.KeyRAMSize]byte
	err := d.chip.ReadKeys(&keys)
	return keys, err
}

func (d *Device) commitKeys(keys [ht16k33.KeyRAMSize]byte) Changes {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commitKeysLocked(keys)
}

func (d *Device) commitKeysLocked(keys [ht16k33.KeyRAMSize]byte) Changes {
	d.prev, d.cur = d.cur, keys

	var ch Changes
	for r := 0; r < d.rows; r++ {
		for c := 0; c < d.cols; c++ {
			at := Coord{r, c}
			b := d.layout.KeyBit(at)
			was, is := d.prev[b.Byte]&b.Mask != 0, d.cur[b.Byte]&b.Mask != 0
			switch {
			case is && !was:
				ch.Pressed = append(ch.Pressed, at)
			case was && !is:
				ch.Released = append(ch.Released, at)
			}
		}
	}
	if !ch.Empty() {
		d.log.Debug().Int("pressed", len(ch.Pressed)).Int("released", len(ch.Released)).Msg("keys")
	}
	return ch
}

// IsPressed reports the key state seen by the last ReadButtons.
func (d *Device) IsPressed(c Coord) (bool, error) {
	if err := d.check("trellis.IsPressed", c); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.layout.KeyBit(c)
	return d.cur[b.Byte]&b.Mask != 0, nil
}

// JustPressed reports a key that went down in the last ReadButtons.
func (d *Device) JustPressed(c Coord) (bool, error) {
	if err := d.check("trellis.JustPressed", c); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.layout.KeyBit(c)
	return d.cur[b.Byte]&b.Mask != 0 && d.prev[b.Byte]&b.Mask == 0, nil
}

// JustReleased reports a key that went up in the last ReadButtons.
func (d *Device) JustReleased(c Coord) (bool, error) {
	if err := d.check("trellis.JustReleased", c); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.layout.KeyBit(c)
	return d.cur[b.Byte]&b.Mask == 0 && d.prev[b.Byte]&b.Mask != 0, nil
}
