// Package pipeline turns typed values into stored payloads and back:
// serialize, then optionally gzip, then optionally AES-128-CBC encrypt.
// Decode applies the exact inverse.
//
// By default every value is encrypted under one fixed IV, so equal plaintexts
// under the same key produce equal ciphertexts. WithRandomIV frames a fresh
// IV with each value instead; payloads written in one mode cannot be read in
// the other.
package pipeline

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/unkn0wn-root/gcache/codec"
	"github.com/unkn0wn-root/gcache/internal/wire"
)

const (
	KeySize = 16

	// DefaultMaxDecompressed bounds the inflated size of one gzip payload.
	DefaultMaxDecompressed = 64 << 20
)

var (
	ErrInvalidEncryptionKey = errors.New("gcache: encryption key must be exactly 16 bytes")
	ErrCorrupt              = errors.New("gcache: payload cannot be decrypted")
	ErrTooLarge             = errors.New("gcache: decompressed payload exceeds limit")
)

var fixedIV = [aes.BlockSize]byte{238, 98, 15, 77, 132, 246, 129, 65, 238, 98, 15, 77, 132, 246, 129, 65}

type config struct {
	compress        bool
	key             []byte
	keySet          bool
	randomIV        bool
	maxDecompressed int64
}

type Option func(*config)

func WithCompression(on bool) Option { return func(c *config) { c.compress = on } }

// WithEncryptionKey enables encryption. A nil key leaves it disabled;
// anything else must be exactly 16 bytes.
func WithEncryptionKey(key []byte) Option {
	return func(c *config) {
		if key == nil {
			c.key, c.keySet = nil, false
			return
		}
		c.key, c.keySet = append([]byte{}, key...), true
	}
}

// WithMaxDecompressed caps how large a gzip payload may inflate on Decode.
// Zero or negative keeps DefaultMaxDecompressed.
func WithMaxDecompressed(n int64) Option { return func(c *config) { c.maxDecompressed = n } }

// WithRandomIV encrypts each value under its own random IV.
func WithRandomIV() Option { return func(c *config) { c.randomIV = true } }

type Pipeline[V any] struct {
	codec    codec.Codec[V]
	compress bool
	block    cipher.Block
	randomIV bool
	maxInfl  int64
}

func New[V any](c codec.Codec[V], opts ...Option) (*Pipeline[V], error) {
	if c == nil {
		return nil, errors.New("gcache: codec is required")
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	p := &Pipeline[V]{codec: c, compress: cfg.compress, randomIV: cfg.randomIV, maxInfl: cfg.maxDecompressed}
	if p.maxInfl <= 0 {
		p.maxInfl = DefaultMaxDecompressed
	}
	if cfg.keySet {
		if len(cfg.key) != KeySize {
			return nil, ErrInvalidEncryptionKey
		}
		block, err := aes.NewCipher(cfg.key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEncryptionKey, err)
		}
		p.block = block
	}
	return p, nil
}

func (p *Pipeline[V]) Compressed() bool { return p.compress }
func (p *Pipeline[V]) Encrypted() bool  { return p.block != nil }

func (p *Pipeline[V]) Encode(v V) ([]byte, error) {
	b, err := p.codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("gcache: serialize: %w", err)
	}
	return p.EncodeBytes(b)
}

func (p *Pipeline[V]) Decode(b []byte) (V, error) {
	var zero V
	raw, err := p.DecodeBytes(b)
	if err != nil {
		return zero, err
	}
	v, err := p.codec.Decode(raw)
	if err != nil {
		return zero, fmt.Errorf("gcache: deserialize: %w", err)
	}
	return v, nil
}

// EncodeBytes runs the compression and encryption stages on serialized bytes.
func (p *Pipeline[V]) EncodeBytes(b []byte) ([]byte, error) {
	var err error
	if p.compress {
		if b, err = gzipBytes(b); err != nil {
			return nil, fmt.Errorf("gcache: compress: %w", err)
		}
	}
	if p.block != nil {
		if b, err = p.seal(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// DecodeBytes reverses EncodeBytes.
func (p *Pipeline[V]) DecodeBytes(b []byte) ([]byte, error) {
	var err error
	if p.block != nil {
		if b, err = p.open(b); err != nil {
			return nil, err
		}
	}
	if p.compress {
		if b, err = gunzipBytes(b, p.maxInfl); err != nil {
			return nil, fmt.Errorf("gcache: decompress: %w", err)
		}
	}
	return b, nil
}

func (p *Pipeline[V]) seal(plain []byte) ([]byte, error) {
	iv := fixedIV[:]
	if p.randomIV {
		iv = make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, fmt.Errorf("gcache: iv: %w", err)
		}
	}
	out := pkcs7Pad(plain, aes.BlockSize)
	cipher.NewCBCEncrypter(p.block, iv).CryptBlocks(out, out)
	if p.randomIV {
		return wire.EncodeSealed(iv, out)
	}
	return out, nil
}

func (p *Pipeline[V]) open(b []byte) ([]byte, error) {
	iv, ct := fixedIV[:], b
	if p.randomIV {
		var err error
		if iv, ct, err = wire.DecodeSealed(b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if len(iv) != aes.BlockSize {
			return nil, ErrCorrupt
		}
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, ErrCorrupt
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(p.block, iv).CryptBlocks(out, ct)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrCorrupt
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrCorrupt
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrCorrupt
		}
	}
	return b[:len(b)-n], nil
}

var gzipWriters = sync.Pool{New: func() any { return gzip.NewWriter(nil) }}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzipWriters.Get().(*gzip.Writer)
	defer gzipWriters.Put(zw)
	zw.Reset(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(b []byte, limit int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, ErrTooLarge
	}
	return out, nil
}
