// Package progress tracks how many bytes of a transfer have been moved.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/pterodactyl/sharefs/system"
)

// Progress counts bytes written through it. It is safe for concurrent use so
// one tracker can be shared by every upload of a batch.
type Progress struct {
	written atomic.Int64
	total   atomic.Int64
}

func New(total int64) *Progress {
	p := &Progress{}
	p.total.Store(total)
	return p
}

func (p *Progress) Written() int64 {
	return p.written.Load()
}

func (p *Progress) Total() int64 {
	return p.total.Load()
}

// SetTotal updates the expected size, for when it is only known once the
// transfer is already under way.
func (p *Progress) SetTotal(total int64) {
	p.total.Store(total)
}

// Write counts v and never fails, so it can sit behind io.TeeReader.
func (p *Progress) Write(v []byte) (int, error) {
	p.written.Add(int64(len(v)))
	return len(v), nil
}

// Reader returns r wrapped so every byte read from it is counted.
func (p *Progress) Reader(r io.Reader) io.Reader {
	return io.TeeReader(r, p)
}

// Bar renders the progress as a bar width ticks wide followed by the byte
// counts, e.g. "[==        ] 100 B / 1000 B".
func (p *Progress) Bar(width int) string {
	current, total := p.Written(), p.Total()
	ticks := width
	if total > 0 {
		ticks = int(float64(current) / float64(total) * float64(width))
	}
	if ticks < 0 {
		ticks = 0
	} else if ticks > width {
		ticks = width
	}
	bar := strings.Repeat("=", ticks) + strings.Repeat(" ", width-ticks)
	return fmt.Sprintf("[%s] %s / %s", bar, system.FormatBytes(current), system.FormatBytes(total))
}
