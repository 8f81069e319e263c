package grpctransport

import (
	"time"

	"github.com/unkn0wn-root/gcache"
)

// Wire messages. Integer keys keep payloads small and stable across renames.

type addOrUpdateRequest struct {
	Container string `cbor:"1,keyasint,omitempty"`
	Key       string `cbor:"2,keyasint"`
	Value     []byte `cbor:"3,keyasint,omitempty"`
	Null      bool   `cbor:"4,keyasint,omitempty"`
	Mode      uint8  `cbor:"5,keyasint,omitempty"`
	ExpiresAt int64  `cbor:"6,keyasint,omitempty"` // unix nanos, absolute mode
	ExpiresIn int64  `cbor:"7,keyasint,omitempty"` // nanos, sliding mode
}

type keyRequest struct {
	Container string `cbor:"1,keyasint,omitempty"`
	Key       string `cbor:"2,keyasint"`
}

type getResponse struct {
	Found     bool   `cbor:"1,keyasint,omitempty"`
	Null      bool   `cbor:"2,keyasint,omitempty"`
	Value     []byte `cbor:"3,keyasint,omitempty"`
	Mode      uint8  `cbor:"4,keyasint,omitempty"`
	ExpiresAt int64  `cbor:"5,keyasint,omitempty"`
	ExpiresIn int64  `cbor:"6,keyasint,omitempty"`
}

type deleteRequest struct {
	Container string `cbor:"1,keyasint,omitempty"`
	Key       string `cbor:"2,keyasint"`
	Partial   bool   `cbor:"3,keyasint,omitempty"`
}

type deleteResponse struct {
	Removed bool `cbor:"1,keyasint,omitempty"`
}

type clearRequest struct {
	Container string `cbor:"1,keyasint,omitempty"`
}

type counterResponse struct {
	Value int64 `cbor:"1,keyasint,omitempty"`
}

type empty struct{}

func newAddOrUpdateRequest(container, key string, value []byte, exp gcache.Expiration) *addOrUpdateRequest {
	req := &addOrUpdateRequest{
		Container: container,
		Key:       key,
		Value:     value,
		Null:      value == nil,
	}
	req.Mode, req.ExpiresAt, req.ExpiresIn = encodeExpiration(exp)
	return req
}

func (r *addOrUpdateRequest) expiration() gcache.Expiration {
	return decodeExpiration(r.Mode, r.ExpiresAt, r.ExpiresIn)
}

func encodeExpiration(exp gcache.Expiration) (mode uint8, at, in int64) {
	if !exp.At.IsZero() {
		at = exp.At.UnixNano()
	}
	return uint8(exp.Mode), at, int64(exp.In)
}

func decodeExpiration(mode uint8, at, in int64) gcache.Expiration {
	exp := gcache.Expiration{Mode: gcache.Mode(mode), In: time.Duration(in)}
	if at != 0 {
		exp.At = time.Unix(0, at)
	}
	return exp
}

// value restores the null marker and the nil/empty distinction lost by omitempty.
func (r *addOrUpdateRequest) value() []byte {
	if r.Null {
		return nil
	}
	if r.Value == nil {
		return []byte{}
	}
	return r.Value
}
