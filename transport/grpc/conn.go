package grpctransport

import (
	"bytes"
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"

	"github.com/unkn0wn-root/gcache"
)

type DialOptions struct {
	// Compression gzips every request on the wire.
	Compression     bool
	MaxMessageBytes int // default 10 MiB
	Extra           []grpc.DialOption
}

// Conn is a gcache.Conn over a gRPC client connection.
type Conn struct {
	cc       *grpc.ClientConn
	callOpts []grpc.CallOption
}

var (
	_ gcache.Conn             = (*Conn)(nil)
	_ gcache.Aborter          = (*Conn)(nil)
	_ gcache.ExpirationGetter = (*Conn)(nil)
)

// Dial connects to addr with default options. It satisfies gcache.Dialer.
func Dial(ctx context.Context, addr string) (gcache.Conn, error) {
	return Dialer(DialOptions{})(ctx, addr)
}

func Dialer(opts DialOptions) gcache.Dialer {
	return func(_ context.Context, addr string) (gcache.Conn, error) {
		maxMsg := opts.MaxMessageBytes
		if maxMsg <= 0 {
			maxMsg = DefaultMaxMessageBytes
		}
		dopts := []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxMsg),
				grpc.MaxCallSendMsgSize(maxMsg),
			),
		}
		cc, err := grpc.NewClient(addr, append(dopts, opts.Extra...)...)
		if err != nil {
			return nil, fmt.Errorf("grpc client %s: %w", addr, err)
		}
		return NewConn(cc, opts.Compression), nil
	}
}

// NewConn wraps an existing client connection; Close closes it.
func NewConn(cc *grpc.ClientConn, compression bool) *Conn {
	c := &Conn{cc: cc, callOpts: []grpc.CallOption{grpc.CallContentSubtype(codecName)}}
	if compression {
		c.callOpts = append(c.callOpts, grpc.UseCompressor(gzip.Name))
	}
	return c
}

func (c *Conn) invoke(ctx context.Context, method string, req, resp any) error {
	return fromStatus(ctx, c.cc.Invoke(ctx, fullMethod(method), req, resp, c.callOpts...))
}

func (c *Conn) AddOrUpdate(ctx context.Context, container, key string, value []byte, exp gcache.Expiration) error {
	return c.invoke(ctx, methodAddOrUpdate, newAddOrUpdateRequest(container, key, value, exp), &empty{})
}

func (c *Conn) Get(ctx context.Context, container, key string) ([]byte, bool, error) {
	v, _, ok, err := c.GetWithExpiration(ctx, container, key)
	return v, ok, err
}

func (c *Conn) GetWithExpiration(ctx context.Context, container, key string) ([]byte, gcache.Expiration, bool, error) {
	var resp getResponse
	if err := c.invoke(ctx, methodGet, &keyRequest{Container: container, Key: key}, &resp); err != nil {
		return nil, gcache.Expiration{}, false, err
	}
	if !resp.Found {
		return nil, gcache.Expiration{}, false, nil
	}
	exp := decodeExpiration(resp.Mode, resp.ExpiresAt, resp.ExpiresIn)
	switch {
	case resp.Null:
		return nil, exp, true, nil
	case resp.Value == nil:
		return []byte{}, exp, true, nil
	}
	return bytes.Clone(resp.Value), exp, true, nil
}

func (c *Conn) Delete(ctx context.Context, container, key string, partial bool) (bool, error) {
	var resp deleteResponse
	err := c.invoke(ctx, methodDelete, &deleteRequest{Container: container, Key: key, Partial: partial}, &resp)
	return resp.Removed, err
}

func (c *Conn) Clear(ctx context.Context, container string) error {
	return c.invoke(ctx, methodClear, &clearRequest{Container: container}, &empty{})
}

func (c *Conn) counter(ctx context.Context, method, container, key string) (int64, error) {
	var resp counterResponse
	if err := c.invoke(ctx, method, &keyRequest{Container: container, Key: key}, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

func (c *Conn) Incr(ctx context.Context, container, key string) (int64, error) {
	return c.counter(ctx, methodIncr, container, key)
}

func (c *Conn) Decr(ctx context.Context, container, key string) (int64, error) {
	return c.counter(ctx, methodDecr, container, key)
}

func (c *Conn) GetCounter(ctx context.Context, container, key string) (int64, error) {
	return c.counter(ctx, methodGetCounter, container, key)
}

func (c *Conn) ResetCounter(ctx context.Context, container, key string) error {
	return c.invoke(ctx, methodResetCounter, &keyRequest{Container: container, Key: key}, &empty{})
}

func (c *Conn) Close() error { return c.cc.Close() }

// Abort releases the connection without reporting errors.
func (c *Conn) Abort() { _ = c.cc.Close() }
