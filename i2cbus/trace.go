package i2cbus

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"tinygo.org/x/drivers"
)

// Record is one traced transaction. Integer keys keep the CBOR compact.
type Record struct {
	Seq  uint64        `cbor:"1,keyasint"`
	At   time.Time     `cbor:"2,keyasint"`
	Addr uint16        `cbor:"3,keyasint"`
	W    []byte        `cbor:"4,keyasint,omitempty"`
	R    []byte        `cbor:"5,keyasint,omitempty"`
	Err  string        `cbor:"6,keyasint,omitempty"`
	Took time.Duration `cbor:"7,keyasint"`
}

// IsWrite reports whether the transaction only wrote.
func (r Record) IsWrite() bool { return len(r.R) == 0 }

var (
	traceEncMode cbor.EncMode
	traceDecMode cbor.DecMode
)

func init() {
	var err error
	traceEncMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("i2cbus: trace CBOR encoder: %v", err))
	}
	traceDecMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("i2cbus: trace CBOR decoder: %v", err))
	}
}

// Trace records every transaction passing through it. It does not
// serialise the underlying bus; put it below a Serial or Queue.
type Trace struct {
	bus drivers.I2C
	log zerolog.Logger

	mu   sync.Mutex
	seq  uint64
	recs []Record
}

// NewTrace wraps bus. A nil logger disables the debug log.
func NewTrace(bus drivers.I2C, logger *zerolog.Logger) *Trace {
	t := &Trace{bus: bus, log: zerolog.Nop()}
	if logger != nil {
		t.log = logger.With().Str("component", "i2cbus.trace").Logger()
	}
	return t
}

func (t *Trace) Tx(addr uint16, w, r []byte) error {
	start := time.Now()
	err := t.bus.Tx(addr, w, r)
	rec := Record{
		At:   start,
		Addr: addr,
		W:    append([]byte(nil), w...),
		Took: time.Since(start),
	}
	if len(r) > 0 && err == nil {
		rec.R = append([]byte(nil), r...)
	}
	if err != nil {
		rec.Err = err.Error()
	}

	t.mu.Lock()
	t.seq++
	rec.Seq = t.seq
	t.recs = append(t.recs, rec)
	t.mu.Unlock()

	t.log.Debug().
		Uint64("seq", rec.Seq).
		Str("addr", fmt.Sprintf("0x%02X", addr)).
		Hex("w", rec.W).
		Hex("r", rec.R).
		Err(err).
		Msg("tx")
	return err
}

// Records returns a copy of everything traced so far.
func (t *Trace) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Record(nil), t.recs...)
}

func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.recs)
}

// Reset drops recorded transactions; sequence numbers keep counting.
func (t *Trace) Reset() {
	t.mu.Lock()
	t.recs = nil
	t.mu.Unlock()
}

// Encode writes the records as a CBOR sequence.
func (t *Trace) Encode(w io.Writer) error {
	return EncodeRecords(w, t.Records())
}

// EncodeRecords writes recs as a CBOR sequence.
func EncodeRecords(w io.Writer, recs []Record) error {
	enc := traceEncMode.NewEncoder(w)
	for i := range recs {
		if err := enc.Encode(&recs[i]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeRecords reads a CBOR sequence written by Encode.
func DecodeRecords(r io.Reader) ([]Record, error) {
	dec := traceDecMode.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
