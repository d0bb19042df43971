package main

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"

	"trellis-go/config"
	"trellis-go/drivers/ht16k33/ht16k33test"
	"trellis-go/drivers/trellis"
	"trellis-go/i2cbus"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

// loadConfig resolves --preset, --config and --bus, in that order.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case rootOpts.preset != "":
		cfg, err = config.Preset(rootOpts.preset)
	case rootOpts.config != "":
		cfg, err = config.Load(rootOpts.config)
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if rootOpts.bus != "" {
		cfg.Bus.Name = rootOpts.bus
	}
	return cfg, nil
}

// session owns the bus stack and the boards for one command.
//
//	host bus or emulator -> [trace] -> queue -> boards
type session struct {
	cfg    *config.Config
	layout trellis.Layout
	group  *trellis.Group
	log    zerolog.Logger

	sim   *ht16k33test.Bus
	host  io.Closer
	trace *i2cbus.Trace
	queue *i2cbus.Queue

	tracePath string
}

func openSession(cfg *config.Config, sim bool, tracePath string, logger zerolog.Logger) (*session, error) {
	layout, err := cfg.BoardLayout()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, layout: layout, log: logger, tracePath: tracePath}

	var raw drivers.I2C
	if sim {
		s.sim = ht16k33test.NewBus(cfg.Addresses...)
		raw = s.sim
	} else {
		b, err := i2cbus.OpenHost(cfg.Bus.Name, physic.Frequency(cfg.Bus.SpeedKHz)*physic.KiloHertz)
		if err != nil {
			return nil, err
		}
		s.host = b
		raw = b
	}
	if tracePath != "" {
		s.trace = i2cbus.NewTrace(raw, &s.log)
		raw = s.trace
	}
	s.queue = i2cbus.NewQueue(raw, i2cbus.QueueConfig{Timeout: cfg.Timeout(), Logger: &s.log})

	fail := func(err error) (*session, error) {
		_ = s.Close()
		return nil, err
	}
	bcfgs, err := cfg.Boards(&s.log)
	if err != nil {
		return fail(err)
	}
	boards := make([]*trellis.Device, 0, len(bcfgs))
	for _, bc := range bcfgs {
		d, err := trellis.New(s.queue, bc)
		if err != nil {
			return fail(err)
		}
		boards = append(boards, d)
	}
	if s.group, err = trellis.NewGroup(cfg.Group(), boards...); err != nil {
		return fail(err)
	}
	if err := s.group.Configure(); err != nil {
		return fail(err)
	}
	s.log.Info().
		Int("boards", len(boards)).
		Int("rows", s.group.Rows()).
		Int("cols", s.group.Cols()).
		Bool("sim", sim).
		Msg("boards ready")
	return s, nil
}

// press simulates a key on the emulated bus. Key numbers follow
// trellis.Group.CoordOf.
func (s *session) press(n int, down bool) error {
	if s.sim == nil {
		return errors.New("press/release need --sim")
	}
	c, err := s.group.CoordOf(n)
	if err != nil {
		return err
	}
	b, local, err := s.group.Locate(c)
	if err != nil {
		return err
	}
	kb := s.layout.KeyBit(local)
	s.sim.SetKey(s.group.Boards()[b].Address(), kb.Byte, uint8(bits.TrailingZeros8(kb.Mask)), down)
	return nil
}

func (s *session) Close() error {
	var errs []error
	if s.queue != nil {
		errs = append(errs, s.queue.Close())
	}
	if s.trace != nil && s.tracePath != "" {
		errs = append(errs, s.writeTrace())
	}
	if s.host != nil {
		errs = append(errs, s.host.Close())
	}
	return errors.Join(errs...)
}

func (s *session) writeTrace() error {
	f, err := os.Create(s.tracePath)
	if err != nil {
		return err
	}
	if err := s.trace.Encode(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.log.Info().Int("records", s.trace.Len()).Str("path", s.tracePath).Msg("trace written")
	return nil
}

func (s *session) status(w io.Writer) {
	st := s.queue.Stats()
	fmt.Fprintf(w, "%d board(s), %dx%d keys\n", len(s.group.Boards()), s.group.Rows(), s.group.Cols())
	for i, b := range s.group.Boards() {
		fmt.Fprintf(w, "  board %d at 0x%02X: brightness %d, blink %s, autoshow %v, pending %v\n",
			i, b.Address(), b.Brightness(), b.BlinkRate(), b.AutoShow(), b.Dirty())
	}
	fmt.Fprintf(w, "bus: %d transactions, %d failed, %d timed out\n", st.Tx, st.Failed, st.TimedOut)
}
