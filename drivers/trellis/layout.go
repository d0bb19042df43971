package trellis

import (
	"fmt"

	"trellis-go/drivers/ht16k33"
	"trellis-go/errcode"
)

// Coord addresses one LED/key by row and column.
type Coord struct {
	Row, Col int
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.Row, c.Col) }

// Bit locates a single bit in the chip's display or key RAM.
type Bit struct {
	Byte uint8
	Mask uint8
}

// Layout describes how a board's LEDs and keys are wired to the HT16K33.
type Layout interface {
	Rows() int
	Cols() int
	LEDBit(c Coord) Bit
	KeyBit(c Coord) Bit
}

// Wiring of the Trellis PCB, indexed by row-major key number.
// High nibble: COM word (LED) or key RAM byte (key); low nibble: bit.
var (
	trellisLEDs = [16]uint8{
		0x3A, 0x37, 0x35, 0x34,
		0x28, 0x29, 0x23, 0x24,
		0x16, 0x1B, 0x11, 0x10,
		0x0E, 0x0D, 0x0C, 0x02,
	}
	trellisKeys = [16]uint8{
		0x07, 0x04, 0x02, 0x22,
		0x05, 0x06, 0x00, 0x01,
		0x03, 0x10, 0x30, 0x21,
		0x13, 0x12, 0x11, 0x31,
	}
)

type trellis4x4 struct{}

// Trellis4x4 is the layout of the Adafruit Trellis 4x4 keypad PCB.
var Trellis4x4 Layout = trellis4x4{}

func (trellis4x4) Rows() int { return 4 }
func (trellis4x4) Cols() int { return 4 }

func (trellis4x4) LEDBit(c Coord) Bit {
	v := trellisLEDs[c.Row*4+c.Col]
	word, bit := v>>4, v&0x0F
	return Bit{Byte: word*2 + bit/8, Mask: 1 << (bit % 8)}
}

func (trellis4x4) KeyBit(c Coord) Bit {
	v := trellisKeys[c.Row*4+c.Col]
	return Bit{Byte: v >> 4, Mask: 1 << (v & 0x0F)}
}

type matrix struct{ rows, cols int }

// Matrix is a direct wiring: LED (r,c) on COMr/ROWc, key (r,c) on KSr/K(c+1).
// The key scanner limits it to 3 rows and 13 columns.
func Matrix(rows, cols int) Layout { return matrix{rows: rows, cols: cols} }

func (m matrix) Rows() int { return m.rows }
func (m matrix) Cols() int { return m.cols }

func (m matrix) LEDBit(c Coord) Bit {
	return Bit{Byte: uint8(2*c.Row + c.Col/8), Mask: 1 << (c.Col % 8)}
}

func (m matrix) KeyBit(c Coord) Bit {
	return Bit{Byte: uint8(2*c.Row + c.Col/8), Mask: 1 << (c.Col % 8)}
}

func (m matrix) validate() error {
	if m.rows < 1 || m.rows > ht16k33.KeyScans || m.cols < 1 || m.cols > ht16k33.KeyLines {
		return fmt.Errorf("matrix %dx%d outside 1..%d x 1..%d",
			m.rows, m.cols, ht16k33.KeyScans, ht16k33.KeyLines)
	}
	return nil
}

// ValidateLayout checks that l maps every coordinate to a distinct,
// in-range bit of display RAM and of key RAM.
func ValidateLayout(l Layout) error {
	const op = "trellis.ValidateLayout"
	if l == nil {
		return errcode.New(errcode.Configuration, op, "nil layout")
	}
	if v, ok := l.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return errcode.New(errcode.Configuration, op, err.Error())
		}
	}
	rows, cols := l.Rows(), l.Cols()
	if rows < 1 || cols < 1 {
		return errcode.New(errcode.Configuration, op, fmt.Sprintf("empty matrix %dx%d", rows, cols))
	}
	var leds [ht16k33.DisplayRAMSize]uint8
	var keys [ht16k33.KeyRAMSize]uint8
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			at := Coord{r, c}
			lb, kb := l.LEDBit(at), l.KeyBit(at)
			if !singleBit(lb.Mask) || int(lb.Byte) >= len(leds) {
				return errcode.New(errcode.Configuration, op, fmt.Sprintf("LED %v maps outside display RAM", at))
			}
			if !singleBit(kb.Mask) || int(kb.Byte) >= len(keys) {
				return errcode.New(errcode.Configuration, op, fmt.Sprintf("key %v maps outside key RAM", at))
			}
			if leds[lb.Byte]&lb.Mask != 0 {
				return errcode.New(errcode.Configuration, op, fmt.Sprintf("LED %v shares a bit", at))
			}
			if keys[kb.Byte]&kb.Mask != 0 {
				return errcode.New(errcode.Configuration, op, fmt.Sprintf("key %v shares a bit", at))
			}
			leds[lb.Byte] |= lb.Mask
			keys[kb.Byte] |= kb.Mask
		}
	}
	return nil
}

func singleBit(m uint8) bool { return m != 0 && m&(m-1) == 0 }
