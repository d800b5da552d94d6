package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
)

const (
	// ControlTokenHeader is the header name for the control token.
	ControlTokenHeader = "X-Control-Token"
)

var errBadToken = errors.New("missing or invalid control token")

// TokenInterceptor authenticates calls with a shared control token. On the
// server it rejects calls without the token; on the client it attaches it.
type TokenInterceptor struct {
	token string
}

var _ connect.Interceptor = (*TokenInterceptor)(nil)

// NewTokenInterceptor creates an interceptor for token.
func NewTokenInterceptor(token string) *TokenInterceptor {
	return &TokenInterceptor{token: token}
}

func (i *TokenInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			req.Header().Set(ControlTokenHeader, i.token)
			return next(ctx, req)
		}
		if !i.valid(req.Header().Get(ControlTokenHeader)) {
			return nil, connect.NewError(connect.CodeUnauthenticated, errBadToken)
		}
		return next(ctx, req)
	}
}

func (i *TokenInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(ControlTokenHeader, i.token)
		return conn
	}
}

func (i *TokenInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if !i.valid(conn.RequestHeader().Get(ControlTokenHeader)) {
			return connect.NewError(connect.CodeUnauthenticated, errBadToken)
		}
		return next(ctx, conn)
	}
}

func (i *TokenInterceptor) valid(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(i.token)) == 1
}
