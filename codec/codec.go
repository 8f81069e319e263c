// Package codec turns typed values into the byte payloads the cache pipeline
// compresses, encrypts and stores.
package codec

// Codec serializes V. Decode must accept exactly what Encode produced.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
