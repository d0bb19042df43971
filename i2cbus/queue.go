package i2cbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"trellis-go/errcode"

	"github.com/rs/zerolog"
	"tinygo.org/x/drivers"
)

// QueueConfig tunes a Queue. All fields are optional.
type QueueConfig struct {
	// Depth of the job channel. Default 16.
	Depth int
	// Timeout bounds each Tx (queueing plus transfer). 0 waits forever.
	Timeout time.Duration
	// Logger receives per-transaction debug output. nil disables logging.
	Logger *zerolog.Logger
}

// Queue owns a bus through a single worker goroutine. Transactions are
// executed one at a time in submission order; Tx blocks until its own
// transaction completes, times out, or the queue is closed.
type Queue struct {
	bus  drivers.I2C
	cfg  QueueConfig
	log  zerolog.Logger
	jobs chan *job

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	n counters
}

type job struct {
	ctx  context.Context
	addr uint16
	w, r []byte
	res  chan error
}

// NewQueue starts a worker for bus.
func NewQueue(bus drivers.I2C, cfg QueueConfig) *Queue {
	if cfg.Depth <= 0 {
		cfg.Depth = 16
	}
	q := &Queue{
		bus:  bus,
		cfg:  cfg,
		log:  zerolog.Nop(),
		jobs: make(chan *job, cfg.Depth),
		done: make(chan struct{}),
	}
	if cfg.Logger != nil {
		q.log = cfg.Logger.With().Str("component", "i2cbus.queue").Logger()
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Tx implements drivers.I2C using the configured timeout.
func (q *Queue) Tx(addr uint16, w, r []byte) error {
	ctx := context.Background()
	if q.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.Timeout)
		defer cancel()
	}
	return q.TxContext(ctx, addr, w, r)
}

// TxContext runs one transaction, giving up when ctx is done. A transaction
// abandoned while queued is never sent; one abandoned in flight completes
// on the bus but its read data is discarded.
func (q *Queue) TxContext(ctx context.Context, addr uint16, w, r []byte) error {
	j := &job{
		ctx:  ctx,
		addr: addr,
		w:    append([]byte(nil), w...),
		res:  make(chan error, 1),
	}
	if len(r) > 0 {
		j.r = make([]byte, len(r))
	}

	select {
	case <-q.done:
		return errcode.New(errcode.Closed, "i2cbus.Queue", "queue closed")
	default:
	}
	select {
	case <-q.done:
		return errcode.New(errcode.Closed, "i2cbus.Queue", "queue closed")
	case <-ctx.Done():
		return q.abandoned(ctx)
	case q.jobs <- j:
	}

	select {
	case err := <-j.res:
		if err == nil {
			copy(r, j.r)
		}
		return err
	case <-ctx.Done():
		return q.abandoned(ctx)
	case <-q.done:
		return errcode.New(errcode.Closed, "i2cbus.Queue", "queue closed")
	}
}

func (q *Queue) abandoned(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		q.n.timedOut.Add(1)
		return errcode.Wrap(errcode.Timeout, "i2cbus.Queue", ctx.Err())
	}
	return errcode.Wrap(errcode.Error, "i2cbus.Queue", ctx.Err())
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case j := <-q.jobs:
			if err := j.ctx.Err(); err != nil {
				j.res <- err
				continue
			}
			start := time.Now()
			err := q.bus.Tx(j.addr, j.w, j.r)
			q.n.tx.Add(1)
			if err != nil {
				q.n.failed.Add(1)
			}
			q.log.Debug().
				Uint16("addr", j.addr).
				Int("w", len(j.w)).
				Int("r", len(j.r)).
				Dur("took", time.Since(start)).
				Err(err).
				Msg("tx")
			j.res <- err
		}
	}
}

// Close stops the worker. Pending and later transactions fail with
// errcode.Closed. It does not close the underlying bus.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	q.wg.Wait()
	return nil
}

func (q *Queue) Stats() Stats { return q.n.snapshot() }
func (q *Queue) serialized()  {}
