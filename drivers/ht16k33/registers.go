package ht16k33

const (
	// 7-bit I2C addresses selectable with the A0..A2 straps (1110_xxx b).
	AddressDefault = 0x70
	AddressMin     = 0x70
	AddressMax     = 0x77

	// --- Command bytes (single-byte writes) ---
	cmdSystemSetup  = 0x20 // | 0x01 oscillator on
	cmdDisplaySetup = 0x80 // | 0x01 display on | blink<<1
	cmdDimming      = 0xE0 // | level (0..15)

	sysOscillatorOn = 0x01
	dispOn          = 0x01

	// --- RAM pointers ---
	addrDisplayRAM = 0x00 // 16 bytes, COMn -> bytes 2n (ROW0..7), 2n+1 (ROW8..15)
	addrKeyRAM     = 0x40 // 6 bytes, KSn -> bytes 2n (K1..K8), 2n+1 (K9..K13)

	// Sizes.
	DisplayRAMSize = 16
	KeyRAMSize     = 6

	// Matrix limits.
	Commons  = 8  // COM0..COM7
	RowLines = 16 // ROW0..ROW15
	KeyScans = 3  // KS0..KS2
	KeyLines = 13 // K1..K13

	MaxBrightness = 15
)

// BlinkRate selects the display blink frequency.
type BlinkRate uint8

const (
	BlinkOff    BlinkRate = iota
	Blink2Hz              // 2 Hz
	Blink1Hz              // 1 Hz
	BlinkHalfHz           // 0.5 Hz
)

func (b BlinkRate) Valid() bool { return b <= BlinkHalfHz }

func (b BlinkRate) String() string {
	switch b {
	case BlinkOff:
		return "off"
	case Blink2Hz:
		return "2Hz"
	case Blink1Hz:
		return "1Hz"
	case BlinkHalfHz:
		return "0.5Hz"
	default:
		return "invalid"
	}
}
