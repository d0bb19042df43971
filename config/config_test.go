package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"trellis-go/drivers/trellis"
	"trellis-go/errcode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	boards, err := c.Boards(nil)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, uint16(0x70), boards[0].Address)
	assert.Equal(t, trellis.Trellis4x4, boards[0].Layout)
	assert.Equal(t, uint8(15), boards[0].Brightness)
	assert.Equal(t, 100*time.Millisecond, c.Timeout())
	assert.Equal(t, 30*time.Millisecond, c.Poll())
	assert.Equal(t, trellis.GroupConfig{Across: 1, Down: 1}, c.Group())
}

func TestAddressesAloneFormOneRow(t *testing.T) {
	c, err := Parse([]byte("addresses: [0x70, 0x71]\n"))
	require.NoError(t, err)
	assert.Equal(t, trellis.GroupConfig{Across: 2, Down: 1}, c.Group())

	_, err = Parse([]byte("addresses: [0x70, 0x71]\nacross: 2\n"))
	assert.Error(t, err, "a half-given arrangement is not completed")
}

func TestParseOverlaysDefault(t *testing.T) {
	c, err := Parse([]byte(`
bus: {name: "/dev/i2c-1", speed_khz: 400}
addresses: [0x70, 0x72]
across: 1
down: 2
blink: 2
auto_show: true
`))
	require.NoError(t, err)
	assert.Equal(t, "/dev/i2c-1", c.Bus.Name)
	assert.Equal(t, 400, c.Bus.SpeedKHz)
	assert.Equal(t, 100, c.Bus.TimeoutMs, "kept from Default")
	assert.Equal(t, []uint16{0x70, 0x72}, c.Addresses)
	assert.Equal(t, trellis.GroupConfig{Across: 1, Down: 2}, c.Group())

	boards, err := c.Boards(nil)
	require.NoError(t, err)
	assert.Equal(t, trellis.Blink1Hz, boards[1].Blink)
	assert.True(t, boards[1].AutoShow)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad yaml":       "addresses: [",
		"no boards":      "addresses: []",
		"nine boards":    "addresses: [0x70,0x71,0x72,0x73,0x74,0x75,0x76,0x77,0x70]\nacross: 9",
		"bad address":    "addresses: [0x60]",
		"duplicate":      "addresses: [0x70, 0x70]\nacross: 2",
		"bad grid":       "addresses: [0x70, 0x71]\nacross: 2\ndown: 2",
		"brightness":     "brightness: 16",
		"blink":          "blink: 4",
		"unknown layout": "layout: {kind: hex}",
		"big matrix":     "layout: {kind: matrix, rows: 4, cols: 4}",
		"negative poll":  "poll_ms: -1",
		"zero poll":      "poll_ms: 0",
	}
	for name, src := range cases {
		_, err := Parse([]byte(src))
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, errcode.Configuration), "%s: %v", name, err)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trellis.yaml")
	c := Default()
	c.Layout = Layout{Kind: LayoutMatrix, Rows: 2, Cols: 8}
	c.Brightness = 9
	require.NoError(t, Save(path, c))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	l, err := got.BoardLayout()
	require.NoError(t, err)
	assert.Equal(t, 2, l.Rows())
	assert.Equal(t, 8, l.Cols())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPresets(t *testing.T) {
	for _, name := range PresetNames() {
		c, err := Preset(name)
		require.NoError(t, err, name)
		assert.Equal(t, c.Across*c.Down, len(c.Addresses), name)
	}
	quad, err := Preset("quad")
	require.NoError(t, err)
	assert.Equal(t, trellis.GroupConfig{Across: 2, Down: 2}, quad.Group())

	_, err = Preset("hexagon")
	assert.True(t, errors.Is(err, errcode.Configuration))
}

func TestPresetLookupOverride(t *testing.T) {
	old := PresetLookup
	PresetLookup = func(name string) ([]byte, bool) {
		return []byte("addresses: [0x75]"), name == "lab"
	}
	t.Cleanup(func() { PresetLookup = old })

	c, err := Preset("lab")
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x75}, c.Addresses)
}
