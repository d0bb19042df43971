package config

import (
	"fmt"
	"sort"

	"trellis-go/errcode"
)

// -----------------------------------------------------------------------------
// Built-in configurations, selectable with --preset.
// -----------------------------------------------------------------------------

const cfgSingle = `
layout: {kind: trellis}
addresses: [0x70]
across: 1
down: 1
`

// Four Trellis boards in a square, solder jumpers A0 and A1.
const cfgQuad = `
layout: {kind: trellis}
addresses: [0x70, 0x71, 0x72, 0x73]
across: 2
down: 2
`

// Eight boards in one long strip.
const cfgStrip = `
layout: {kind: trellis}
addresses: [0x70, 0x71, 0x72, 0x73, 0x74, 0x75, 0x76, 0x77]
across: 8
down: 1
`

// Bare HT16K33 breakout with a 3x13 matrix, the chip's full key scan.
const cfgBreakout = `
layout: {kind: matrix, rows: 3, cols: 13}
addresses: [0x70]
across: 1
down: 1
`

var presets = map[string]string{
	"single":   cfgSingle,
	"quad":     cfgQuad,
	"strip":    cfgStrip,
	"breakout": cfgBreakout,
}

// PresetLookup allows overriding how presets are resolved.
var PresetLookup = func(name string) ([]byte, bool) {
	s, ok := presets[name]
	return []byte(s), ok
}

// Preset parses a built-in configuration.
func Preset(name string) (*Config, error) {
	raw, ok := PresetLookup(name)
	if !ok || len(raw) == 0 {
		return nil, errcode.New(errcode.Configuration, "config.Preset",
			fmt.Sprintf("no preset %q", name))
	}
	return Parse(raw)
}

// PresetNames lists the built-in presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
