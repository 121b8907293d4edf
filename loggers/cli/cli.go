// Package cli is an apex/log handler that writes aligned, optionally
// colored lines meant for a terminal or a plain log file.
package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var Default = New(os.Stderr, true)

var (
	bold    = color.New(color.Bold)
	boldred = color.New(color.Bold, color.FgRed)
	faint   = color.New(color.Faint)
)

var Strings = [...]string{
	log.DebugLevel: "DEBUG",
	log.InfoLevel:  " INFO",
	log.WarnLevel:  " WARN",
	log.ErrorLevel: "ERROR",
	log.FatalLevel: "FATAL",
}

// Handler formats entries as "LEVEL: [time] <subsystem> message key=value".
type Handler struct {
	mu      sync.Mutex
	Writer  io.Writer
	Padding int

	// Stacktraces prints the stack of any "error" field below the entry.
	Stacktraces bool

	colors bool
	now    func() time.Time
}

// New returns a handler writing to w. Colors are only used when asked for
// and w is a terminal.
func New(w io.Writer, useColors bool) *Handler {
	h := &Handler{Padding: 2, now: time.Now}
	if f, ok := w.(*os.File); ok && useColors && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		h.Writer = colorable.NewColorable(f)
		h.colors = true
		return h
	}
	h.Writer = colorable.NewNonColorable(w)
	return h
}

func (h *Handler) paint(c *color.Color, format string, args ...interface{}) string {
	if !h.colors {
		return fmt.Sprintf(format, args...)
	}
	return c.Sprintf(format, args...)
}

// HandleLog implements log.Handler.
func (h *Handler) HandleLog(e *log.Entry) error {
	c := cli.Colors[e.Level]
	names := e.Fields.Names()

	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(h.Writer, "%s: [%s] ", h.paint(bold, "%*s", h.Padding+1, Strings[e.Level]), h.now().Format(time.StampMilli))
	if s, ok := e.Fields.Get("subsystem").(string); ok {
		fmt.Fprintf(h.Writer, "%s ", h.paint(faint, "<%s>", s))
	}
	fmt.Fprintf(h.Writer, "%-25s", e.Message)

	for _, name := range names {
		if name == "source" || name == "subsystem" {
			continue
		}
		key := name
		if h.colors {
			key = c.Sprint(name)
		}
		fmt.Fprintf(h.Writer, " %s=%v", key, e.Fields.Get(name))
	}
	fmt.Fprintln(h.Writer)

	if !h.Stacktraces {
		return nil
	}
	if err, ok := e.Fields.Get("error").(error); ok {
		// Attach a stack if the error does not carry one yet, skipping this
		// frame since it says nothing about where the error came from.
		err = errors.WithStackDepthIf(err, 1)
		fmt.Fprintf(h.Writer, "\n%s\n%+v\n\n", h.paint(boldred, "Stacktrace:"), err)
	}
	return nil
}
