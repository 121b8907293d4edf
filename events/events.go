package events

import (
	"strings"

	"emperror.dev/errors"
	"github.com/goccy/go-json"

	"github.com/pterodactyl/sharefs/system"
)

// Event is a single message sent over a Bus. Data holds the encoded payload
// so that every subscriber decodes its own copy.
type Event struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Decode decodes the payload of the event into v.
func (e Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrap(err, "events: failed to decode event payload")
	}
	return nil
}

// Bus is a publish/subscribe fan-out of encoded events.
type Bus struct {
	*system.SinkPool[[]byte]
}

// NewBus returns a new empty Bus.
func NewBus() *Bus {
	return &Bus{
		system.NewSinkPool[[]byte](),
	}
}

// Publish encodes data and pushes it to every listener. A topic may carry a
// suffix after a colon ("notify:/first") to scope it; the suffix is stripped
// before publishing so listeners only ever match on the base topic.
func (b *Bus) Publish(topic string, data interface{}) {
	if i := strings.IndexByte(topic, ':'); i >= 0 {
		topic = topic[:i]
	}

	raw, err := json.Marshal(data)
	if err != nil {
		panic(errors.WithStack(err))
	}
	enc, err := json.Marshal(Event{Topic: topic, Data: raw})
	if err != nil {
		panic(errors.WithStack(err))
	}
	b.Push(enc)
}

// MustDecode decodes the event byte slice back into an Event or panics.
func MustDecode(data []byte) (e Event) {
	if err := DecodeTo(data, &e); err != nil {
		panic(err)
	}
	return
}

// DecodeTo decodes a byte slice of event data into the given interface.
func DecodeTo(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "events: failed to decode byte slice")
	}
	return nil
}
