package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/lugma-dev/lugma/pkg/protocol"
	"github.com/lugma-dev/lugma/pkg/stream"
	"github.com/lugma-dev/lugma/pkg/transport"
)

// Classify maps a runtime error to a coded LugmaError for display. Errors
// it does not recognise are wrapped with Newf under category.
func Classify(err error, category Category) *LugmaError {
	if err == nil {
		return nil
	}

	var le *LugmaError
	if stderrors.As(err, &le) {
		return le
	}

	var remote *transport.RemoteError[json.RawMessage]
	if stderrors.As(err, &remote) {
		return New("L202").
			WithDetail(fmt.Sprintf("Status %d: %s", remote.Status, remote.Payload)).
			Wrap(err)
	}

	var conn *transport.ConnectionError
	if stderrors.As(err, &conn) {
		e := New("L201").Wrap(err)
		if conn.Status != 0 {
			e.WithDetail(fmt.Sprintf("The server rejected the stream with status %d.", conn.Status)).
				WithSuggestion("Check that the endpoint is a stream endpoint")
		}
		return e
	}

	switch {
	case stderrors.Is(err, transport.ErrInvalidBaseURL):
		return New("L203").Wrap(err)
	case stderrors.Is(err, transport.ErrInvalidResponse):
		return New("L204").Wrap(err)
	case stderrors.Is(err, stream.ErrInvalidHandshake):
		return New("L303").Wrap(err)
	case stderrors.Is(err, stream.ErrStreamClosed), stream.IsConnectionError(err):
		return New("L302").Wrap(err)
	case protocol.IsDecodeError(err):
		return New("L301").Wrap(err)
	}

	return &LugmaError{Category: category, Message: err.Error()}
}
