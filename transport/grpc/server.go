// Package grpctransport serves a store over gRPC and provides the matching
// gcache.Conn. Messages are CBOR-encoded Go structs under the "cbor"
// content-subtype; no protoc step is involved.
package grpctransport

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	_ "google.golang.org/grpc/encoding/gzip" // registers the gzip compressor
	"google.golang.org/grpc/status"

	"github.com/unkn0wn-root/gcache"
	"github.com/unkn0wn-root/gcache/store"
)

const DefaultMaxMessageBytes = 10 << 20

type ServerOptions struct {
	Logger          gcache.Logger
	MaxMessageBytes int // default 10 MiB
	Extra           []grpc.ServerOption
}

type Server struct {
	st  *store.Store
	gs  *grpc.Server
	log gcache.Logger
}

var _ cacheService = (*Server)(nil)

func NewServer(st *store.Store, opts ServerOptions) *Server {
	s := &Server{st: st, log: opts.Logger}
	if s.log == nil {
		s.log = gcache.NopLogger{}
	}
	maxMsg := opts.MaxMessageBytes
	if maxMsg <= 0 {
		maxMsg = DefaultMaxMessageBytes
	}

	sopts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsg),
		grpc.MaxSendMsgSize(maxMsg),
		grpc.ChainUnaryInterceptor(s.recoverInterceptor, s.logInterceptor, errorInterceptor),
	}
	s.gs = grpc.NewServer(append(sopts, opts.Extra...)...)
	s.gs.RegisterService(&serviceDesc, s)
	return s
}

// GRPC exposes the underlying server, e.g. to register health checks.
func (s *Server) GRPC() *grpc.Server { return s.gs }

// Serve blocks serving lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server started", gcache.Fields{"addr": lis.Addr().String()})
	return s.gs.Serve(lis)
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			s.log.Error("gRPC server error", gcache.Fields{"err": err})
		}
	}()
	return lis.Addr(), nil
}

// Stop drains in-flight calls, then stops the server.
func (s *Server) Stop() { s.gs.GracefulStop() }

func (s *Server) recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in handler", gcache.Fields{"method": info.FullMethod, "panic": fmt.Sprint(r)})
			err = status.Errorf(codes.Internal, "panic: %v", r)
		}
	}()
	return handler(ctx, req)
}

func (s *Server) logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	f := gcache.Fields{"method": info.FullMethod, "elapsed": time.Since(start).String()}
	if err != nil {
		f["err"] = err
		s.log.Warn("call failed", f)
	} else {
		s.log.Debug("call", f)
	}
	return resp, err
}

func errorInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	return resp, toStatus(err)
}

func (s *Server) addOrUpdate(_ context.Context, in *addOrUpdateRequest) (*empty, error) {
	return &empty{}, s.st.AddOrUpdate(in.Container, in.Key, in.value(), in.expiration())
}

func (s *Server) get(_ context.Context, in *keyRequest) (*getResponse, error) {
	v, exp, ok, err := s.st.GetWithExpiration(in.Container, in.Key)
	if err != nil {
		return nil, err
	}
	resp := &getResponse{Found: ok, Null: ok && v == nil, Value: v}
	if ok {
		resp.Mode, resp.ExpiresAt, resp.ExpiresIn = encodeExpiration(exp)
	}
	return resp, nil
}

func (s *Server) delete(_ context.Context, in *deleteRequest) (*deleteResponse, error) {
	removed, err := s.st.Delete(in.Container, in.Key, in.Partial)
	if err != nil {
		return nil, err
	}
	return &deleteResponse{Removed: removed}, nil
}

func (s *Server) clear(_ context.Context, in *clearRequest) (*empty, error) {
	s.st.Clear(in.Container)
	return &empty{}, nil
}

func (s *Server) incr(_ context.Context, in *keyRequest) (*counterResponse, error) {
	n, err := s.st.Incr(in.Container, in.Key)
	return &counterResponse{Value: n}, err
}

func (s *Server) decr(_ context.Context, in *keyRequest) (*counterResponse, error) {
	n, err := s.st.Decr(in.Container, in.Key)
	return &counterResponse{Value: n}, err
}

func (s *Server) getCounter(_ context.Context, in *keyRequest) (*counterResponse, error) {
	n, err := s.st.GetCounter(in.Container, in.Key)
	return &counterResponse{Value: n}, err
}

func (s *Server) resetCounter(_ context.Context, in *keyRequest) (*empty, error) {
	return &empty{}, s.st.ResetCounter(in.Container, in.Key)
}
