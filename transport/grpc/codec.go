package grpctransport

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// codecName is the content-subtype both ends negotiate ("application/grpc+cbor").
const codecName = "cbor"

// cborCodec carries the plain Go message structs below, so the service needs
// no generated protobuf code.
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{MaxByteStringLen: maxByteStringLen}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: em, dec: dm}
}

// maxByteStringLen bounds a single value; gRPC message limits apply first.
const maxByteStringLen = 1 << 30

func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
func (cborCodec) Name() string                         { return codecName }

func init() {
	encoding.RegisterCodec(newCBORCodec())
}
