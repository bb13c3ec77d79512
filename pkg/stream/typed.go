package stream

import (
	"encoding/json"

	"github.com/lugma-dev/lugma/pkg/protocol"
)

// On subscribes fn to event with content decoded as T. Frames whose content
// does not decode as T are dropped and counted.
func On[T any](s *Stream, event string, fn func(T)) HandlerID {
	return s.Subscribe(event, func(raw json.RawMessage) {
		v, err := protocol.DecodeContent[T](raw)
		if err != nil {
			s.drop(DropContent, err)
			return
		}
		fn(v)
	})
}

// Emit sends v as the content of event.
func Emit[T any](s *Stream, event string, v T) error {
	return s.Send(event, v)
}
