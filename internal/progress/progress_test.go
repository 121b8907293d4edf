package progress_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/franela/goblin"

	"github.com/pterodactyl/sharefs/internal/progress"
)

func TestProgress(t *testing.T) {
	g := goblin.Goblin(t)

	g.Describe("Progress", func() {
		g.It("properly initializes", func() {
			p := progress.New(1000)
			g.Assert(p).IsNotNil()
			g.Assert(p.Total()).Equal(int64(1000))
			g.Assert(p.Written()).Equal(int64(0))
		})

		g.It("increments written when Write is called", func() {
			v := []byte("hello")
			p := progress.New(1000)
			_, err := p.Write(v)
			g.Assert(err).IsNil()
			g.Assert(p.Written()).Equal(int64(len(v)))
		})

		g.It("counts bytes read through a reader", func() {
			p := progress.New(0)
			n, err := io.Copy(io.Discard, p.Reader(strings.NewReader("some contents")))
			g.Assert(err).IsNil()
			g.Assert(p.Written()).Equal(n)
		})

		g.It("renders a progress bar", func() {
			p := progress.New(1000)
			_, _ = p.Write(bytes.Repeat([]byte{' '}, 100))
			g.Assert(p.Bar(25)).Equal("[==                       ] 100 B / 1000 B")
		})

		g.It("renders a progress bar when written exceeds total", func() {
			p := progress.New(1000)
			_, _ = p.Write(bytes.Repeat([]byte{' '}, 1001))
			g.Assert(p.Bar(25)).Equal("[=========================] 1001 B / 1000 B")
		})

		g.It("renders a full bar for an empty transfer", func() {
			p := progress.New(0)
			g.Assert(p.Bar(4)).Equal("[====] 0 B / 0 B")
		})
	})
}
