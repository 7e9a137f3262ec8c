// Package console reads operator commands while the control loop runs.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hailam/reflex/internal/engine"
)

// Controller is the part of the engine the console drives.
type Controller interface {
	Stats() engine.Stats
	Source() string
	Stop()
}

// Console implements a line-based command loop.
type Console struct {
	ctrl    Controller
	in      io.Reader
	out     io.Writer
	started time.Time
}

// New creates a console reading commands from in and answering on out.
func New(ctrl Controller, in io.Reader, out io.Writer) *Console {
	return &Console{ctrl: ctrl, in: in, out: out, started: time.Now()}
}

// Run processes commands until quit, end of input or ctx is done. The reader is
// drained in its own goroutine, which stays blocked on input after ctx ends.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if c.handle(line) {
				return nil
			}
		}
	}
}

// handle runs one command and reports whether the loop should end.
func (c *Console) handle(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	switch parts[0] {
	case "status":
		c.handleStatus()
	case "quit", "stop":
		c.ctrl.Stop()
		fmt.Fprintln(c.out, "stopping")
		return true
	case "help":
		fmt.Fprintln(c.out, "commands: status, quit")
	default:
		fmt.Fprintf(c.out, "unknown command %q\n", parts[0])
	}
	return false
}

// handleStatus prints the engine counters.
func (c *Console) handleStatus() {
	st := c.ctrl.Stats()
	uptime := time.Since(c.started)
	rate := 0.0
	if s := uptime.Seconds(); s > 0 {
		rate = float64(st.Cycles) / s
	}
	fmt.Fprintf(c.out, "state %s source %s cycles %s rate %s/s last %v up %v\n",
		st.State, c.ctrl.Source(), humanize.Comma(int64(st.Cycles)),
		humanize.FormatFloat("#,###.#", rate), st.LastLatency, uptime.Round(time.Second))
}
