package events

import (
	"testing"
	"time"

	. "github.com/franela/goblin"
)

type payload struct {
	Path   string `json:"path"`
	Action string `json:"action"`
}

func TestBus(t *testing.T) {
	g := Goblin(t)

	g.Describe("Bus", func() {
		var bus *Bus
		g.BeforeEach(func() {
			bus = NewBus()
		})

		g.Describe("Publish", func() {
			g.It("delivers an encoded event to a listener", func() {
				g.Timeout(time.Second)
				listener := make(chan []byte, 1)
				bus.On(listener)
				defer bus.Off(listener)

				bus.Publish("notify", payload{Path: "/first/comment", Action: "write"})

				e := MustDecode(<-listener)
				g.Assert(e.Topic).Equal("notify")

				var p payload
				g.Assert(e.Decode(&p)).IsNil()
				g.Assert(p.Path).Equal("/first/comment")
				g.Assert(p.Action).Equal("write")
			})

			g.It("strips the scope from a topic", func() {
				g.Timeout(time.Second)
				listener := make(chan []byte, 1)
				bus.On(listener)
				defer bus.Off(listener)

				bus.Publish("notify:/quatre", "x")
				g.Assert(MustDecode(<-listener).Topic).Equal("notify")
			})

			g.It("delivers to every listener", func() {
				g.Timeout(time.Second)
				listeners := []chan []byte{make(chan []byte, 1), make(chan []byte, 1), make(chan []byte, 1)}
				for _, l := range listeners {
					bus.On(l)
				}

				bus.Publish("notify", payload{Path: "/3"})
				for _, l := range listeners {
					var p payload
					g.Assert(MustDecode(<-l).Decode(&p)).IsNil()
					g.Assert(p.Path).Equal("/3")
					bus.Off(l)
				}
			})
		})

		g.Describe("DecodeTo", func() {
			g.It("returns an error for malformed input", func() {
				var e Event
				g.Assert(DecodeTo([]byte("{"), &e)).IsNotNil()
			})
		})
	})
}
