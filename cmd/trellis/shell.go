package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"trellis-go/drivers/trellis"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive LED and key console",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "trellis> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
		})
		if err != nil {
			return fmt.Errorf("failed to create readline: %w", err)
		}
		defer rl.Close()

		// Log lines must not tear the prompt.
		logger := log.Output(zerolog.ConsoleWriter{Out: rl.Stderr(), TimeFormat: "15:04:05"})
		s, err := openSession(cfg, rootOpts.sim, rootOpts.trace, logger)
		if err != nil {
			return err
		}
		defer s.Close()

		sh := &shell{s: s, out: rl.Stdout()}
		sh.printHelp()
		for {
			line, err := rl.Readline()
			if err != nil {
				if err == readline.ErrInterrupt {
					continue
				}
				return nil // EOF
			}
			quit, err := sh.exec(line)
			if err != nil {
				fmt.Fprintf(sh.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	},
}

type shell struct {
	s   *session
	out io.Writer
}

func (sh *shell) printHelp() {
	fmt.Fprint(sh.out, `Commands:
  on N | off N | toggle N   change LED N in the buffer
  fill 0|1                  set every LED
  show                      write pending LED changes
  read                      poll keys and print changes
  brightness 0..15          set LED duty cycle
  blink 0..3                off, 2Hz, 1Hz, 0.5Hz
  autoshow 0|1              write every LED change immediately
  status                    boards and bus counters
  press N | release N       simulate key N (--sim only)
  help                      this text
  quit                      exit
`)
}

// exec runs one command line.
func (sh *shell) exec(line string) (quit bool, err error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]
	g := sh.s.group

	switch cmd {
	case "help", "?":
		sh.printHelp()
	case "quit", "exit", "q":
		return true, nil

	case "on", "off", "toggle":
		c, err := sh.key(args)
		if err != nil {
			return false, err
		}
		switch cmd {
		case "on":
			return false, g.SetLED(c, true)
		case "off":
			return false, g.SetLED(c, false)
		default:
			return false, g.Toggle(c)
		}

	case "fill":
		v, err := sh.num(args, 0, 1)
		if err != nil {
			return false, err
		}
		return false, g.Fill(v == 1)

	case "show":
		return false, g.Show()

	case "read":
		ch, err := g.ReadButtons()
		if err != nil {
			return false, err
		}
		if ch.Empty() {
			fmt.Fprintln(sh.out, "no change")
		}
		sh.printKeys("pressed", ch.Pressed)
		sh.printKeys("released", ch.Released)

	case "brightness":
		v, err := sh.num(args, 0, 255)
		if err != nil {
			return false, err
		}
		return false, g.SetBrightness(uint8(v))

	case "blink":
		v, err := sh.num(args, 0, 255)
		if err != nil {
			return false, err
		}
		return false, g.SetBlinkRate(trellis.BlinkRate(v))

	case "autoshow":
		v, err := sh.num(args, 0, 1)
		if err != nil {
			return false, err
		}
		g.SetAutoShow(v == 1)

	case "status":
		sh.s.status(sh.out)

	case "press", "release":
		n, err := sh.num(args, 0, g.Size()-1)
		if err != nil {
			return false, err
		}
		return false, sh.s.press(n, cmd == "press")

	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}

func (sh *shell) key(args []string) (trellis.Coord, error) {
	n, err := sh.num(args, 0, sh.s.group.Size()-1)
	if err != nil {
		return trellis.Coord{}, err
	}
	return sh.s.group.CoordOf(n)
}

// num parses the single argument. Brightness and blink are only bounded
// to a byte here; the driver reports their real range.
func (sh *shell) num(args []string, lo, hi int) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one number")
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%d outside %d..%d", v, lo, hi)
	}
	return v, nil
}

func (sh *shell) printKeys(what string, cs []trellis.Coord) {
	for _, c := range cs {
		n, _ := sh.s.group.Number(c)
		fmt.Fprintf(sh.out, "%s %d %v\n", what, n, c)
	}
}
