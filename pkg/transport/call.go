package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lugma-dev/lugma/pkg/protocol"
)

// Call performs a unary call and decodes the result. A success body decodes
// into Resp; a server error decodes into *RemoteError[Err]. If the error body
// does not match Err, the *RemoteError[json.RawMessage] is returned as is.
func Call[Resp, Err any](ctx context.Context, t Transport, endpoint string, body any, md *protocol.Metadata) (Resp, error) {
	var zero Resp

	raw, err := t.MakeRequest(ctx, endpoint, body, md)
	if err != nil {
		var re *RemoteError[json.RawMessage]
		if !errors.As(err, &re) {
			return zero, err
		}
		var payload Err
		if derr := json.Unmarshal(re.Payload, &payload); derr != nil {
			return zero, re
		}
		return zero, &RemoteError[Err]{Status: re.Status, Payload: payload}
	}

	var resp Resp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return resp, nil
}

// Unary is a reusable typed request for one endpoint. Headers set on it are
// merged under the per-call metadata of every call.
type Unary[Req, Resp, Err any] struct {
	transport Transport
	endpoint  string

	mu     sync.RWMutex
	header *protocol.Metadata
}

// NewUnary creates a Unary bound to endpoint.
func NewUnary[Req, Resp, Err any](t Transport, endpoint string) *Unary[Req, Resp, Err] {
	return &Unary[Req, Resp, Err]{
		transport: t,
		endpoint:  endpoint,
		header:    protocol.NewMetadata(),
	}
}

// Endpoint returns the endpoint path.
func (u *Unary[Req, Resp, Err]) Endpoint() string {
	return u.endpoint
}

// SetHeader sets a metadata pair sent with every call.
func (u *Unary[Req, Resp, Err]) SetHeader(key, value string) *Unary[Req, Resp, Err] {
	u.mu.Lock()
	u.header.Set(key, value)
	u.mu.Unlock()
	return u
}

// Do sends req. Pairs in md override headers set with SetHeader.
func (u *Unary[Req, Resp, Err]) Do(ctx context.Context, req Req, md *protocol.Metadata) (Resp, error) {
	u.mu.RLock()
	merged := u.header.Clone()
	u.mu.RUnlock()

	md.Range(func(k, v string) bool {
		merged.Set(k, v)
		return true
	})
	return Call[Resp, Err](ctx, u.transport, u.endpoint, req, merged)
}
