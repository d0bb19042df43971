package trellis

import (
	"errors"
	"math/bits"
	"sync"
	"testing"
	"time"

	"trellis-go/drivers/ht16k33/ht16k33test"
	"trellis-go/errcode"
	"trellis-go/i2cbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func newBoard(t *testing.T, bus *ht16k33test.Bus, cfg Config) *Device {
	t.Helper()
	d, err := New(bus, cfg)
	require.NoError(t, err)
	require.NoError(t, d.Configure())
	bus.ResetCounts()
	return d
}

func press(bus *ht16k33test.Bus, d *Device, c Coord, down bool) {
	b := d.layout.KeyBit(c)
	bus.SetKey(d.Address(), b.Byte, uint8(bits.TrailingZeros8(b.Mask)), down)
}

func ledOnChip(bus *ht16k33test.Bus, d *Device, c Coord) bool {
	ram := bus.RAM(d.Address())
	b := d.layout.LEDBit(c)
	return ram[b.Byte]&b.Mask != 0
}

func TestSingleLEDShowIsOneWrite(t *testing.T) {
	want := make([]byte, 17)
	want[0] = 0x00   // display RAM pointer
	want[1+7] = 0x04 // key 0 is COM3 ROW10
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{{Addr: 0x70, W: want}}}

	d, err := New(bus, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, d.SetLED(Coord{0, 0}, true))
	require.NoError(t, d.Show())
	require.NoError(t, bus.Close())
}

func TestConfigureInitialisesChip(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	cfg := DefaultConfig()
	cfg.Brightness = 7
	cfg.Blink = Blink1Hz
	d, err := New(bus, cfg)
	require.NoError(t, err)
	require.NoError(t, d.Configure())

	chip, ok := bus.Chip(0x70)
	require.True(t, ok)
	assert.True(t, chip.Oscillator)
	assert.True(t, chip.DisplayOn)
	assert.Equal(t, uint8(2), chip.Blink)
	assert.Equal(t, uint8(7), chip.Brightness)
	assert.Equal(t, [16]byte{}, chip.RAM)
	assert.Equal(t, 4, bus.Writes())
	assert.False(t, d.Dirty())
}

func TestSetThenShowReachesEveryLED(t *testing.T) {
	for _, layout := range []Layout{Trellis4x4, Matrix(3, 13), Matrix(1, 1)} {
		bus := ht16k33test.NewBus(0x70)
		cfg := DefaultConfig()
		cfg.Layout = layout
		d := newBoard(t, bus, cfg)

		for r := 0; r < d.Rows(); r++ {
			for c := 0; c < d.Cols(); c++ {
				at := Coord{r, c}
				require.NoError(t, d.SetLED(at, true))
				require.NoError(t, d.Show())
				assert.True(t, ledOnChip(bus, d, at), "%v on", at)
				require.NoError(t, d.SetLED(at, false))
				require.NoError(t, d.Show())
				assert.False(t, ledOnChip(bus, d, at), "%v off", at)
			}
		}
	}
}

func TestFillOnThenOffRestoresBuffer(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	d := newBoard(t, bus, DefaultConfig())
	before := d.ram

	require.NoError(t, d.Fill(true))
	for n := 0; n < d.Size(); n++ {
		c, _ := d.CoordOf(n)
		on, err := d.LED(c)
		require.NoError(t, err)
		assert.True(t, on)
	}
	require.NoError(t, d.Fill(false))
	assert.Equal(t, before, d.ram)
	assert.Equal(t, 0, bus.Count(), "fill without AutoShow stays in memory")
}

func TestToggle(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	d := newBoard(t, bus, DefaultConfig())

	c := Coord{2, 3}
	require.NoError(t, d.Toggle(c))
	on, _ := d.LED(c)
	assert.True(t, on)
	require.NoError(t, d.Toggle(c))
	on, _ = d.LED(c)
	assert.False(t, on)
}

func TestOutOfRangeNeverTouchesBus(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	cfg := DefaultConfig()
	cfg.AutoShow = true
	d := newBoard(t, bus, cfg)

	for _, c := range []Coord{{-1, 0}, {0, -1}, {4, 0}, {0, 4}, {100, 100}} {
		checks := []error{
			d.SetLED(c, true),
			d.Toggle(c),
		}
		_, err := d.LED(c)
		checks = append(checks, err)
		_, err = d.IsPressed(c)
		checks = append(checks, err)
		_, err = d.JustPressed(c)
		checks = append(checks, err)
		_, err = d.JustReleased(c)
		checks = append(checks, err)
		for _, err := range checks {
			require.Error(t, err)
			assert.True(t, errors.Is(err, errcode.OutOfRange), "%v: %v", c, err)
		}
	}
	assert.Equal(t, 0, bus.Attempts())

	assert.True(t, errors.Is(d.SetBrightness(16), errcode.OutOfRange))
	assert.True(t, errors.Is(d.SetBlinkRate(BlinkRate(4)), errcode.OutOfRange))
	assert.Equal(t, 0, bus.Attempts())
}

func TestAutoShowWritesImmediately(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	cfg := DefaultConfig()
	cfg.AutoShow = true
	d := newBoard(t, bus, cfg)

	require.NoError(t, d.SetLED(Coord{1, 1}, true))
	assert.Equal(t, 1, bus.Writes())
	assert.True(t, ledOnChip(bus, d, Coord{1, 1}))

	// Unchanged state is not re-sent.
	require.NoError(t, d.SetLED(Coord{1, 1}, true))
	assert.Equal(t, 1, bus.Writes())

	d.SetAutoShow(false)
	require.NoError(t, d.SetLED(Coord{1, 2}, true))
	assert.Equal(t, 1, bus.Writes())
	assert.False(t, d.AutoShow())
}

func TestShowSkipsCleanBoard(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	d := newBoard(t, bus, DefaultConfig())
	require.NoError(t, d.Show())
	assert.Equal(t, 0, bus.Attempts())
}

func TestFailedShowStaysPending(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	d := newBoard(t, bus, DefaultConfig())
	require.NoError(t, d.SetLED(Coord{0, 0}, true))

	bus.Fail(errors.New("bus stuck"))
	err := d.Show()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.Communication))
	assert.True(t, d.Dirty())

	bus.Fail(nil)
	require.NoError(t, d.Show())
	assert.True(t, ledOnChip(bus, d, Coord{0, 0}))
	assert.False(t, d.Dirty())
}

func TestReadButtonsEdges(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	d := newBoard(t, bus, DefaultConfig())

	ch, err := d.ReadButtons()
	require.NoError(t, err)
	assert.True(t, ch.Empty())

	press(bus, d, Coord{0, 0}, true)
	press(bus, d, Coord{3, 2}, true)
	ch, err = d.ReadButtons()
	require.NoError(t, err)
	assert.ElementsMatch(t, []Coord{{0, 0}, {3, 2}}, ch.Pressed)
	assert.Empty(t, ch.Released)

	jp, _ := d.JustPressed(Coord{3, 2})
	assert.True(t, jp)
	ip, _ := d.IsPressed(Coord{0, 0})
	assert.True(t, ip)

	// Same hardware state: nothing new.
	ch, err = d.ReadButtons()
	require.NoError(t, err)
	assert.True(t, ch.Empty())
	jp, _ = d.JustPressed(Coord{3, 2})
	assert.False(t, jp)
	ip, _ = d.IsPressed(Coord{3, 2})
	assert.True(t, ip)

	press(bus, d, Coord{0, 0}, false)
	ch, err = d.ReadButtons()
	require.NoError(t, err)
	assert.Equal(t, []Coord{{0, 0}}, ch.Released)
	assert.Empty(t, ch.Pressed)
	jr, _ := d.JustReleased(Coord{0, 0})
	assert.True(t, jr)

	assert.Equal(t, 4, bus.Reads(), "one read transaction per poll")
}

func TestIsPressedDoesNoIO(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	d := newBoard(t, bus, DefaultConfig())
	press(bus, d, Coord{1, 1}, true)

	ip, err := d.IsPressed(Coord{1, 1})
	require.NoError(t, err)
	assert.False(t, ip, "state only changes on ReadButtons")
	assert.Equal(t, 0, bus.Attempts())
}

func TestFailedReadKeepsKeyState(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	d := newBoard(t, bus, DefaultConfig())
	press(bus, d, Coord{2, 2}, true)
	_, err := d.ReadButtons()
	require.NoError(t, err)

	press(bus, d, Coord{2, 2}, false)
	bus.Fail(errors.New("nack"))
	_, err = d.ReadButtons()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.Communication))

	ip, _ := d.IsPressed(Coord{2, 2})
	assert.True(t, ip)
	jp, _ := d.JustPressed(Coord{2, 2})
	assert.True(t, jp)

	bus.Fail(nil)
	ch, err := d.ReadButtons()
	require.NoError(t, err)
	assert.Equal(t, []Coord{{2, 2}}, ch.Released)
}

func TestNewRejectsBadConfig(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	bad := []Config{
		{Address: 0x20},
		{Address: 0x78},
		{Brightness: 16},
		{Blink: BlinkRate(4)},
		{Layout: Matrix(4, 4)},
		{Layout: Matrix(2, 14)},
		{Layout: Matrix(0, 3)},
	}
	for _, cfg := range bad {
		_, err := New(bus, cfg)
		require.Error(t, err, "%+v", cfg)
		assert.True(t, errors.Is(err, errcode.Configuration), "%+v: %v", cfg, err)
	}
	_, err := New(nil, DefaultConfig())
	assert.True(t, errors.Is(err, errcode.Configuration))
	assert.Equal(t, 0, bus.Attempts())
}

func TestZeroConfigDefaults(t *testing.T) {
	d, err := New(ht16k33test.NewBus(0x70), Config{})
	require.NoError(t, err)
	assert.Equal(t, uint16(0x70), d.Address())
	assert.Equal(t, 4, d.Rows())
	assert.Equal(t, 4, d.Cols())
}

func TestMissingBoardIsCommunicationError(t *testing.T) {
	d, err := New(ht16k33test.NewBus(0x70), Config{Address: 0x71})
	require.NoError(t, err)
	err = d.Configure()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.Communication))
	assert.True(t, errors.Is(err, ht16k33test.ErrNACK))
}

func TestCoordNumbering(t *testing.T) {
	d, err := New(ht16k33test.NewBus(0x70), DefaultConfig())
	require.NoError(t, err)
	for n := 0; n < d.Size(); n++ {
		c, err := d.CoordOf(n)
		require.NoError(t, err)
		back, err := d.Number(c)
		require.NoError(t, err)
		assert.Equal(t, n, back)
	}
	c, _ := d.CoordOf(6)
	assert.Equal(t, Coord{1, 2}, c)
	_, err = d.CoordOf(16)
	assert.True(t, errors.Is(err, errcode.OutOfRange))
}

func TestSettingsAndHalt(t *testing.T) {
	bus := ht16k33test.NewBus(0x70)
	d := newBoard(t, bus, DefaultConfig())

	require.NoError(t, d.SetBrightness(3))
	require.NoError(t, d.SetBlinkRate(BlinkHalfHz))
	assert.Equal(t, uint8(3), d.Brightness())
	assert.Equal(t, BlinkHalfHz, d.BlinkRate())

	chip, _ := bus.Chip(0x70)
	assert.Equal(t, uint8(3), chip.Brightness)
	assert.Equal(t, uint8(3), chip.Blink)

	require.NoError(t, d.Halt())
	chip, _ = bus.Chip(0x70)
	assert.False(t, chip.Oscillator)
	assert.False(t, chip.DisplayOn)
}

// stallBus holds every transaction for delay before passing it on.
type stallBus struct {
	bus   *ht16k33test.Bus
	delay time.Duration
}

func (b *stallBus) Tx(addr uint16, w, r []byte) error {
	time.Sleep(b.delay)
	return b.bus.Tx(addr, w, r)
}

func TestQueueFailuresAreCommunicationErrors(t *testing.T) {
	emu := ht16k33test.NewBus(0x70)
	q := i2cbus.NewQueue(&stallBus{bus: emu, delay: 50 * time.Millisecond},
		i2cbus.QueueConfig{Timeout: 5 * time.Millisecond})
	d, err := New(q, DefaultConfig())
	require.NoError(t, err)

	err = d.Show()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.Communication), "%v", err)
	assert.True(t, errors.Is(err, errcode.Timeout), "%v", err)
	assert.True(t, d.Dirty())

	_, err = d.ReadButtons()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.Communication), "%v", err)
	assert.True(t, errors.Is(err, errcode.Timeout), "%v", err)

	require.NoError(t, q.Close())
	err = d.Show()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.Communication), "%v", err)
	assert.True(t, errors.Is(err, errcode.Closed), "%v", err)
}

// flipBus flips key (0,0) before every key read and records, per read,
// the state the device had committed when the read started.
type flipBus struct {
	emu  *ht16k33test.Bus
	d    *Device
	down bool

	committed [][6]byte
	read      [][6]byte
}

func (b *flipBus) Tx(addr uint16, w, r []byte) error {
	if len(r) == 0 {
		return b.emu.Tx(addr, w, r)
	}
	b.committed = append(b.committed, b.d.cur)
	b.down = !b.down
	press(b.emu, b.d, Coord{0, 0}, b.down)
	err := b.emu.Tx(addr, w, r)
	var got [6]byte
	copy(got[:], r)
	b.read = append(b.read, got)
	return err
}

func TestConcurrentReadButtonsCommitInOrder(t *testing.T) {
	bus := &flipBus{emu: ht16k33test.NewBus(0x70)}
	d, err := New(bus, DefaultConfig())
	require.NoError(t, err)
	bus.d = d

	const callers, rounds = 4, 50
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				_, err := d.ReadButtons()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, bus.read, callers*rounds)
	for k := 1; k < len(bus.read); k++ {
		require.Equal(t, bus.read[k-1], bus.committed[k], "poll %d started before poll %d committed", k, k-1)
	}
	assert.Equal(t, bus.read[len(bus.read)-1], d.cur)
}
