package system

import (
	"testing"

	. "github.com/franela/goblin"
)

func TestUtils(t *testing.T) {
	g := Goblin(t)

	g.Describe("FirstNotEmpty", func() {
		g.It("returns the first non-empty value", func() {
			g.Assert(FirstNotEmpty("", "b", "c")).Equal("b")
			g.Assert(FirstNotEmpty("", "")).Equal("")
		})
	})

	g.Describe("FormatBytes", func() {
		g.It("formats small values as bytes", func() {
			g.Assert(FormatBytes(123)).Equal("123 B")
		})

		g.It("uses binary units", func() {
			g.Assert(FormatBytes(int64(2048))).Equal("2.0 KiB")
			g.Assert(FormatBytes(uint64(8 * 1024 * 1024))).Equal("8.0 MiB")
		})
	})
}
