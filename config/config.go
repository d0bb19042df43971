// Package config holds the YAML configuration of the trellis tool: which
// bus to open, how the boards are wired and arranged, and display
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"trellis-go/drivers/ht16k33"
	"trellis-go/drivers/trellis"
	"trellis-go/errcode"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	LayoutTrellis = "trellis"
	LayoutMatrix  = "matrix"
)

type Bus struct {
	Name      string `yaml:"name"`       // periph bus name, "" = first available
	SpeedKHz  int    `yaml:"speed_khz"`  // 0 leaves the bus speed alone
	TimeoutMs int    `yaml:"timeout_ms"` // per transaction, 0 = none
}

type Layout struct {
	Kind string `yaml:"kind"` // "trellis" | "matrix"
	Rows int    `yaml:"rows,omitempty"`
	Cols int    `yaml:"cols,omitempty"`
}

type Config struct {
	Bus    Bus    `yaml:"bus"`
	Layout Layout `yaml:"layout"`

	// Board addresses in row-major board order. With Across and Down
	// both zero the boards form a single row.
	Addresses []uint16 `yaml:"addresses"`
	Across    int      `yaml:"across,omitempty"`
	Down      int      `yaml:"down,omitempty"`

	Brightness uint8 `yaml:"brightness"`
	Blink      uint8 `yaml:"blink"` // 0 off, 1 2Hz, 2 1Hz, 3 0.5Hz
	PollMs     int   `yaml:"poll_ms"`
	AutoShow   bool  `yaml:"auto_show"`
}

// Default is one Trellis on 0x70 polled every 30ms.
func Default() *Config {
	return &Config{
		Bus:        Bus{TimeoutMs: 100},
		Layout:     Layout{Kind: LayoutTrellis},
		Addresses:  []uint16{ht16k33.AddressDefault},
		Brightness: ht16k33.MaxBrightness,
		PollMs:     30,
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errcode.Wrap(errcode.Configuration, "config.Parse", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Validate checks everything that can be checked without hardware.
func (c *Config) Validate() error {
	const op = "config.Validate"
	bad := func(format string, args ...any) error {
		return errcode.New(errcode.Configuration, op, fmt.Sprintf(format, args...))
	}
	if c.Bus.SpeedKHz < 0 || c.Bus.TimeoutMs < 0 {
		return bad("negative speed or timeout")
	}
	if c.PollMs < 1 {
		return bad("poll_ms %d, want at least 1", c.PollMs)
	}
	if _, err := c.BoardLayout(); err != nil {
		return err
	}
	n := len(c.Addresses)
	if n == 0 || n > trellis.MaxBoards {
		return bad("%d boards, want 1..%d", n, trellis.MaxBoards)
	}
	seen := make(map[uint16]bool, n)
	for _, a := range c.Addresses {
		if !ht16k33.ValidAddress(a) {
			return bad("address 0x%02X outside 0x%02X..0x%02X", a, ht16k33.AddressMin, ht16k33.AddressMax)
		}
		if seen[a] {
			return bad("address 0x%02X listed twice", a)
		}
		seen[a] = true
	}
	if across, down := c.arrangement(); across < 1 || down < 1 || across*down != n {
		return bad("%dx%d arrangement for %d boards", across, down, n)
	}
	if c.Brightness > ht16k33.MaxBrightness {
		return bad("brightness %d outside 0..%d", c.Brightness, ht16k33.MaxBrightness)
	}
	if !ht16k33.BlinkRate(c.Blink).Valid() {
		return bad("blink %d outside 0..3", c.Blink)
	}
	return nil
}

// BoardLayout resolves the layout section.
func (c *Config) BoardLayout() (trellis.Layout, error) {
	var l trellis.Layout
	switch c.Layout.Kind {
	case "", LayoutTrellis:
		l = trellis.Trellis4x4
	case LayoutMatrix:
		l = trellis.Matrix(c.Layout.Rows, c.Layout.Cols)
	default:
		return nil, errcode.New(errcode.Configuration, "config.BoardLayout",
			fmt.Sprintf("unknown layout %q", c.Layout.Kind))
	}
	if err := trellis.ValidateLayout(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Boards returns one driver Config per address.
func (c *Config) Boards(log *zerolog.Logger) ([]trellis.Config, error) {
	l, err := c.BoardLayout()
	if err != nil {
		return nil, err
	}
	out := make([]trellis.Config, 0, len(c.Addresses))
	for _, a := range c.Addresses {
		out = append(out, trellis.Config{
			Address:    a,
			Layout:     l,
			AutoShow:   c.AutoShow,
			Brightness: c.Brightness,
			Blink:      trellis.BlinkRate(c.Blink),
			Logger:     log,
		})
	}
	return out, nil
}

func (c *Config) Group() trellis.GroupConfig {
	across, down := c.arrangement()
	return trellis.GroupConfig{Across: across, Down: down}
}

// arrangement applies the single-row default, as trellis.NewGroup does.
func (c *Config) arrangement() (across, down int) {
	if c.Across == 0 && c.Down == 0 {
		return len(c.Addresses), 1
	}
	return c.Across, c.Down
}

func (c *Config) Timeout() time.Duration { return time.Duration(c.Bus.TimeoutMs) * time.Millisecond }
func (c *Config) Poll() time.Duration    { return time.Duration(c.PollMs) * time.Millisecond }
