package grpctransport

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "gcache.Cache"

// cacheService is the server-side handler set of serviceDesc.
type cacheService interface {
	addOrUpdate(context.Context, *addOrUpdateRequest) (*empty, error)
	get(context.Context, *keyRequest) (*getResponse, error)
	delete(context.Context, *deleteRequest) (*deleteResponse, error)
	clear(context.Context, *clearRequest) (*empty, error)
	incr(context.Context, *keyRequest) (*counterResponse, error)
	decr(context.Context, *keyRequest) (*counterResponse, error)
	getCounter(context.Context, *keyRequest) (*counterResponse, error)
	resetCounter(context.Context, *keyRequest) (*empty, error)
}

const (
	methodAddOrUpdate  = "AddOrUpdate"
	methodGet          = "Get"
	methodDelete       = "Delete"
	methodClear        = "Clear"
	methodIncr         = "Incr"
	methodDecr         = "Decr"
	methodGetCounter   = "GetCounter"
	methodResetCounter = "ResetCounter"
)

func fullMethod(m string) string { return "/" + serviceName + "/" + m }

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*cacheService)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodAddOrUpdate, cacheService.addOrUpdate),
		unary(methodGet, cacheService.get),
		unary(methodDelete, cacheService.delete),
		unary(methodClear, cacheService.clear),
		unary(methodIncr, cacheService.incr),
		unary(methodDecr, cacheService.decr),
		unary(methodGetCounter, cacheService.getCounter),
		unary(methodResetCounter, cacheService.resetCounter),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gcache/cache",
}

func unary[Req, Resp any](name string, call func(cacheService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(cacheService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(cacheService), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
