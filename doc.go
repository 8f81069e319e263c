// Package gcache is the client side of a networked, in-memory key-value cache.
// A single server process (see cmd/gcached and package store) keeps byte values
// under namespaced keys with per-entry expiration; this package gives typed,
// retrying access to it.
//
// Components:
//   - Conn: the remote operation contract (gRPC, Redis or in-process).
//   - Codec[V] + pipeline: V -> bytes -> gzip (optional) -> AES (optional), and back.
//   - Cache[V]: the typed façade with bounded retry, async ops and drain-on-close.
//
// Keys:
//
//	!!<container>|<key>   - composite storage key ("default" when no container)
//
// Usage:
//
//	c, _ := gcache.New[User](ctx, gcache.Options[User]{
//	    Container: "users",
//	    Dialer:    grpctransport.Dial,
//	})
//	defer c.Close(ctx)
//	_ = c.AddOrUpdate(ctx, "u:1", u, gcache.ExpiresIn(10*time.Minute))
//	v, ok, err := c.Get(ctx, "u:1")
package gcache
