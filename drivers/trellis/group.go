package trellis

import (
	"fmt"
	"sync"

	"trellis-go/drivers/ht16k33"
	"trellis-go/errcode"
)

// MaxBoards is the number of distinct HT16K33 addresses.
const MaxBoards = 8

// GroupConfig arranges boards into a grid. Boards are placed row-major:
// the first Across boards form the top row.
type GroupConfig struct {
	// Across defaults to the number of boards when Across and Down are zero.
	Across int
	Down   int
}

// Group treats several boards as one logical matrix.
type Group struct {
	mu     sync.Mutex
	boards []*Device
	across int
	down   int
	rows   int // per board
	cols   int // per board
}

// NewGroup validates the arrangement. Boards must have identical
// dimensions and distinct addresses.
func NewGroup(cfg GroupConfig, boards ...*Device) (*Group, error) {
	const op = "trellis.NewGroup"
	if len(boards) == 0 {
		return nil, errcode.New(errcode.Configuration, op, "no boards")
	}
	if len(boards) > MaxBoards {
		return nil, errcode.New(errcode.Configuration, op,
			fmt.Sprintf("%d boards, at most %d", len(boards), MaxBoards))
	}
	if cfg.Across == 0 && cfg.Down == 0 {
		cfg.Across, cfg.Down = len(boards), 1
	}
	if cfg.Across < 1 || cfg.Down < 1 || cfg.Across*cfg.Down != len(boards) {
		return nil, errcode.New(errcode.Configuration, op,
			fmt.Sprintf("%dx%d arrangement for %d boards", cfg.Across, cfg.Down, len(boards)))
	}
	seen := make(map[uint16]bool, len(boards))
	for i, b := range boards {
		if b == nil {
			return nil, errcode.New(errcode.Configuration, op, fmt.Sprintf("board %d is nil", i))
		}
		if seen[b.Address()] {
			return nil, errcode.New(errcode.Configuration, op,
				fmt.Sprintf("address 0x%02X used twice", b.Address()))
		}
		seen[b.Address()] = true
		if b.Rows() != boards[0].Rows() || b.Cols() != boards[0].Cols() {
			return nil, errcode.New(errcode.Configuration, op,
				fmt.Sprintf("board %d is %dx%d, board 0 is %dx%d", i, b.Rows(), b.Cols(), boards[0].Rows(), boards[0].Cols()))
		}
	}
	return &Group{
		boards: append([]*Device(nil), boards...),
		across: cfg.Across,
		down:   cfg.Down,
		rows:   boards[0].Rows(),
		cols:   boards[0].Cols(),
	}, nil
}

func (g *Group) Rows() int         { return g.down * g.rows }
func (g *Group) Cols() int         { return g.across * g.cols }
func (g *Group) Size() int         { return g.Rows() * g.Cols() }
func (g *Group) Boards() []*Device { return append([]*Device(nil), g.boards...) }

// Locate translates a logical coordinate to a board index and the
// coordinate on that board.
func (g *Group) Locate(c Coord) (int, Coord, error) {
	if c.Row < 0 || c.Row >= g.Rows() || c.Col < 0 || c.Col >= g.Cols() {
		return 0, Coord{}, errcode.New(errcode.OutOfRange, "trellis.Group.Locate",
			fmt.Sprintf("%v outside %dx%d", c, g.Rows(), g.Cols()))
	}
	board := (c.Row/g.rows)*g.across + c.Col/g.cols
	return board, Coord{Row: c.Row % g.rows, Col: c.Col % g.cols}, nil
}

// Logical is the inverse of Locate.
func (g *Group) Logical(board int, local Coord) (Coord, error) {
	if board < 0 || board >= len(g.boards) ||
		local.Row < 0 || local.Row >= g.rows || local.Col < 0 || local.Col >= g.cols {
		return Coord{}, errcode.New(errcode.OutOfRange, "trellis.Group.Logical",
			fmt.Sprintf("board %d %v outside %d boards of %dx%d", board, local, len(g.boards), g.rows, g.cols))
	}
	return Coord{
		Row: (board/g.across)*g.rows + local.Row,
		Col: (board%g.across)*g.cols + local.Col,
	}, nil
}

// CoordOf converts a key number to a logical coordinate. Numbers run
// board by board: 0..15 on the first Trellis, 16..31 on the second, and
// so on.
func (g *Group) CoordOf(n int) (Coord, error) {
	per := g.rows * g.cols
	if n < 0 || n >= per*len(g.boards) {
		return Coord{}, errcode.New(errcode.OutOfRange, "trellis.Group.CoordOf",
			fmt.Sprintf("key %d outside 0..%d", n, per*len(g.boards)-1))
	}
	local := n % per
	return g.Logical(n/per, Coord{Row: local / g.cols, Col: local % g.cols})
}

// Number is the inverse of CoordOf.
func (g *Group) Number(c Coord) (int, error) {
	b, local, err := g.Locate(c)
	if err != nil {
		return 0, err
	}
	return b*g.rows*g.cols + local.Row*g.cols + local.Col, nil
}

// ---------------- LEDs ----------------

func (g *Group) SetLED(c Coord, on bool) error {
	b, local, err := g.Locate(c)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.boards[b].SetLED(local, on)
}

func (g *Group) LED(c Coord) (bool, error) {
	b, local, err := g.Locate(c)
	if err != nil {
		return false, err
	}
	return g.boards[b].LED(local)
}

func (g *Group) Toggle(c Coord) error {
	b, local, err := g.Locate(c)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.boards[b].Toggle(local)
}

// Fill sets every LED of every board.
func (g *Group) Fill(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.boards {
		if err := b.Fill(on); err != nil {
			return err
		}
	}
	return nil
}

// Show writes every board with pending changes, one transaction each,
// stopping at the first failure. Boards not written keep their changes.
func (g *Group) Show() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, b := range g.boards {
		if err := b.Show(); err != nil {
			return fmt.Errorf("board %d: %w", i, err)
		}
	}
	return nil
}

// SetAutoShow applies to every board.
func (g *Group) SetAutoShow(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.boards {
		b.SetAutoShow(on)
	}
}

// ---------------- Display settings ----------------

func (g *Group) SetBrightness(level uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, b := range g.boards {
		if err := b.SetBrightness(level); err != nil {
			return fmt.Errorf("board %d: %w", i, err)
		}
	}
	return nil
}

func (g *Group) SetBlinkRate(rate BlinkRate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, b := range g.boards {
		if err := b.SetBlinkRate(rate); err != nil {
			return fmt.Errorf("board %d: %w", i, err)
		}
	}
	return nil
}

// Configure brings up every board.
func (g *Group) Configure() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, b := range g.boards {
		if err := b.Configure(); err != nil {
			return fmt.Errorf("board %d: %w", i, err)
		}
	}
	return nil
}

// Halt stops every board, returning the first error after trying all.
func (g *Group) Halt() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var first error
	for i, b := range g.boards {
		if err := b.Halt(); err != nil && first == nil {
			first = fmt.Errorf("board %d: %w", i, err)
		}
	}
	return first
}

// ---------------- Keys ----------------

// ReadButtons polls every board and reports changes in logical
// coordinates. Key state is committed only when every board was read.
func (g *Group) ReadButtons() (Changes, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	all := make([][ht16k33.KeyRAMSize]byte, len(g.boards))
	for i, b := range g.boards {
		k, err := b.pollKeys()
		if err != nil {
			return Changes{}, fmt.Errorf("board %d: %w", i, err)
		}
		all[i] = k
	}

	var out Changes
	for i, b := range g.boards {
		ch := b.commitKeys(all[i])
		for _, c := range ch.Pressed {
			lc, _ := g.Logical(i, c)
			out.Pressed = append(out.Pressed, lc)
		}
		for _, c := range ch.Released {
			lc, _ := g.Logical(i, c)
			out.Released = append(out.Released, lc)
		}
	}
	return out, nil
}

func (g *Group) IsPressed(c Coord) (bool, error) {
	b, local, err := g.Locate(c)
	if err != nil {
		return false, err
	}
	return g.boards[b].IsPressed(local)
}

func (g *Group) JustPressed(c Coord) (bool, error) {
	b, local, err := g.Locate(c)
	if err != nil {
		return false, err
	}
	return g.boards[b].JustPressed(local)
}

func (g *Group) JustReleased(c Coord) (bool, error) {
	b, local, err := g.Locate(c)
	if err != nil {
		return false, err
	}
	return g.boards[b].JustReleased(local)
}
