package memory

import (
	"time"
)

// AnnarContents is the body of the "/annar" fixture file. It is exactly 123
// bytes long.
const AnnarContents = "In order to make sure that this file is exactly 123 bytes in size, I have written this text while watching its chars count."

var (
	fixtureAtime = time.UnixMilli(1658159058723)
	fixtureMtime = time.UnixMilli(1658159058723)
	fixtureCtime = time.UnixMilli(1658159058720)
	fixtureBtime = time.UnixMilli(1658159058718)
)

var fixtureDirs = []string{"first", "quatre"}

var fixtureFiles = []struct {
	path string
	body string
}{
	{"3", ""},
	{"annar", AnnarContents},
	{"first/comment", ""},
	{"quatre/points", ""},
}

// seed populates the tree with the fixture. It runs before the store is
// shared so it does not take the lock.
func (s *Store) seed() {
	for _, name := range fixtureDirs {
		n := s.newNode(name, true, 0o775, fixtureBtime)
		stampFixture(n)
		s.root.children[name] = n
	}
	for _, f := range fixtureFiles {
		dir, name, err := s.parentOf("/" + f.path)
		if err != nil {
			panic(err)
		}
		n := s.newNode(name, false, 0o664, fixtureBtime)
		n.data = []byte(f.body)
		stampFixture(n)
		dir.children[name] = n
	}
}

func stampFixture(n *node) {
	n.atime = fixtureAtime
	n.mtime = fixtureMtime
	n.ctime = fixtureCtime
	n.btime = fixtureBtime
}
