package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"trellis-go/i2cbus"

	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace FILE",
	Short: "Print a CBOR transaction trace recorded with --trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		recs, err := i2cbus.DecodeRecords(f)
		if err != nil {
			return err
		}
		printTrace(cmd.OutOrStdout(), recs)
		return nil
	},
}

func printTrace(w io.Writer, recs []i2cbus.Record) {
	for _, r := range recs {
		dir := "R"
		if r.IsWrite() {
			dir = "W"
		}
		fmt.Fprintf(w, "%6d %s 0x%02X %s %-8s w=%s",
			r.Seq, r.At.Format("15:04:05.000"), r.Addr, dir, r.Took.Round(time.Microsecond), hex.EncodeToString(r.W))
		if len(r.R) > 0 {
			fmt.Fprintf(w, " r=%s", hex.EncodeToString(r.R))
		}
		if r.Err != "" {
			fmt.Fprintf(w, " err=%q", r.Err)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d transactions\n", len(recs))
}
