package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ---------- Sequencing timing ----------

type demoTiming struct {
	dwell time.Duration // after fill on / fill off
	step  time.Duration // between chase steps
	poll  time.Duration // button loop
}

// minPoll keeps the button loop off a busy spin.
const minPoll = time.Millisecond

var defaultTiming = demoTiming{
	dwell: 2 * time.Second,
	step:  100 * time.Millisecond,
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Light every LED, chase, then mirror key presses",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := openSession(cfg, rootOpts.sim, rootOpts.trace, log.Logger)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		t := defaultTiming
		t.poll = cfg.Poll()
		return runDemo(ctx, s, cmd.OutOrStdout(), t)
	},
}

// runDemo returns nil when ctx ends.
func runDemo(ctx context.Context, s *session, w io.Writer, t demoTiming) error {
	g := s.group
	wait := func(d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	fmt.Fprintln(w, "Turning all LEDs on...")
	if err := g.Fill(true); err != nil {
		return err
	}
	if err := g.Show(); err != nil {
		return err
	}
	if !wait(t.dwell) {
		return nil
	}

	fmt.Fprintln(w, "Turning all LEDs off...")
	if err := g.Fill(false); err != nil {
		return err
	}
	if err := g.Show(); err != nil {
		return err
	}
	if !wait(t.dwell) {
		return nil
	}

	fmt.Fprintln(w, "Turning on each LED, one at a time...")
	for n := 0; n < g.Size(); n++ {
		if err := chaseStep(s, n, true); err != nil {
			return err
		}
		if !wait(t.step) {
			return nil
		}
	}
	fmt.Fprintln(w, "Turning off each LED, one at a time...")
	for n := g.Size() - 1; n >= 0; n-- {
		if err := chaseStep(s, n, false); err != nil {
			return err
		}
		if !wait(t.step) {
			return nil
		}
	}

	if t.poll < minPoll {
		t.poll = minPoll
	}
	fmt.Fprintln(w, "Starting button loop...")
	for wait(t.poll) {
		ch, err := g.ReadButtons()
		if err != nil {
			// Transient bus errors should not end the loop.
			s.log.Warn().Err(err).Msg("read buttons")
			continue
		}
		for _, c := range ch.Pressed {
			n, _ := g.Number(c)
			fmt.Fprintf(w, "Button %d was just pressed!\n", n+1)
			if err := g.SetLED(c, true); err != nil {
				return err
			}
		}
		for _, c := range ch.Released {
			n, _ := g.Number(c)
			fmt.Fprintf(w, "Button %d was released!\n", n+1)
			if err := g.SetLED(c, false); err != nil {
				return err
			}
		}
		if err := g.Show(); err != nil {
			s.log.Warn().Err(err).Msg("show")
		}
	}
	return nil
}

func chaseStep(s *session, n int, on bool) error {
	c, err := s.group.CoordOf(n)
	if err != nil {
		return err
	}
	if err := s.group.SetLED(c, on); err != nil {
		return err
	}
	return s.group.Show()
}
