package vfs

import (
	"testing"

	. "github.com/franela/goblin"
)

func TestPath(t *testing.T) {
	g := Goblin(t)

	g.Describe("ChildPath", func() {
		g.It("appends a slash for directories", func() {
			g.Assert(ChildPath("/", "first", true)).Equal("/first/")
			g.Assert(ChildPath("/first/", "nested", true)).Equal("/first/nested/")
		})

		g.It("does not append a slash for files", func() {
			g.Assert(ChildPath("/", "annar", false)).Equal("/annar")
			g.Assert(ChildPath("/first/", "comment", false)).Equal("/first/comment")
		})

		g.It("tolerates a parent without the directory suffix", func() {
			g.Assert(ChildPath("/first", "comment", false)).Equal("/first/comment")
		})
	})

	g.Describe("StripRoot", func() {
		g.It("removes exactly one leading slash", func() {
			g.Assert(StripRoot("/first/")).Equal("first/")
			g.Assert(StripRoot("//double")).Equal("/double")
			g.Assert(StripRoot("/")).Equal("")
			g.Assert(StripRoot("relative")).Equal("relative")
		})
	})

	g.Describe("TrimDir", func() {
		g.It("removes the trailing slash", func() {
			g.Assert(TrimDir("/first/")).Equal("/first")
			g.Assert(TrimDir("/3")).Equal("/3")
		})

		g.It("leaves the root alone", func() {
			g.Assert(TrimDir("/")).Equal("/")
		})
	})

	g.Describe("ParentAndName", func() {
		g.It("splits directory and file paths", func() {
			p, n := ParentAndName("/first/comment")
			g.Assert(p).Equal("/first/")
			g.Assert(n).Equal("comment")

			p, n = ParentAndName("/quatre/")
			g.Assert(p).Equal("/")
			g.Assert(n).Equal("quatre")
		})

		g.It("returns nothing for the root", func() {
			p, n := ParentAndName("/")
			g.Assert(p).Equal("")
			g.Assert(n).Equal("")
		})
	})

	g.Describe("Segments", func() {
		g.It("drops empty components", func() {
			g.Assert(Segments("/a//b/c/")).Equal([]string{"a", "b", "c"})
			g.Assert(len(Segments("/"))).Equal(0)
		})
	})

	g.Describe("ValidateName", func() {
		g.It("accepts ordinary names", func() {
			g.Assert(ValidateName("annar")).IsNil()
			g.Assert(ValidateName(".hidden")).IsNil()
		})

		g.It("rejects names that are not a single component", func() {
			for _, n := range []string{"", ".", "..", "a/b", "nul\x00"} {
				err := ValidateName(n)
				g.Assert(err).IsNotNil()
				g.Assert(IsErrorCode(err, ErrCodeInvalidArgument)).IsTrue()
			}
		})
	})

	g.Describe("Relative", func() {
		g.It("returns paths relative to the root", func() {
			rel, ok := Relative("/", "/first/comment", WatchRecursive)
			g.Assert(ok).IsTrue()
			g.Assert(rel).Equal("first/comment")
		})

		g.It("only reports direct children in the default mode", func() {
			_, ok := Relative("/", "/first/comment", WatchDefault)
			g.Assert(ok).IsFalse()

			rel, ok := Relative("/first/", "/first/comment", WatchDefault)
			g.Assert(ok).IsTrue()
			g.Assert(rel).Equal("comment")
		})

		g.It("ignores the watched directory and its siblings", func() {
			_, ok := Relative("/first/", "/first/", WatchRecursive)
			g.Assert(ok).IsFalse()
			_, ok = Relative("/first/", "/firstly", WatchRecursive)
			g.Assert(ok).IsFalse()
		})
	})
}
