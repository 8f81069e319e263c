package grpctransport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/unkn0wn-root/gcache"
)

// toStatus maps store errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, v := range gcache.ValidationErrors() {
		if errors.Is(err, v) {
			return status.Error(codes.InvalidArgument, err.Error())
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus turns a call error back into something the client's retry
// policy can classify: validation failures become their sentinel and are
// permanent, caller cancellation becomes the context error.
func fromStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		for _, v := range gcache.ValidationErrors() {
			if strings.HasPrefix(st.Message(), v.Error()) {
				return fmt.Errorf("%w (remote: %s)", v, st.Message())
			}
		}
		return gcache.Permanent(err)
	case codes.Unimplemented, codes.PermissionDenied, codes.Unauthenticated, codes.ResourceExhausted:
		return gcache.Permanent(err)
	}
	return err
}
