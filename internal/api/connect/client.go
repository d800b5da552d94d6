package connect

import (
	"context"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the player service.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	opts       []connect.ClientOption
}

// NewClient creates a client for the service at baseURL. A non-empty token
// is sent with every call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	if token != "" {
		opts = append(opts, connect.WithInterceptors(NewTokenInterceptor(token)))
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, opts: opts}
}

// Call invokes a unary procedure with fields as the request message.
func (c *Client) Call(ctx context.Context, procedure string, fields map[string]any) (map[string]any, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	client := connect.NewClient[structpb.Struct, structpb.Struct](c.httpClient, c.baseURL+procedure, c.opts...)
	res, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return res.Msg.AsMap(), nil
}

// Subscribe streams the events of player id to fn until ctx is done, the
// stream ends or fn returns false.
func (c *Client) Subscribe(ctx context.Context, id string, fn func(map[string]any) bool) error {
	msg, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return err
	}
	client := connect.NewClient[structpb.Struct, structpb.Struct](c.httpClient, c.baseURL+PlayerServiceSubscribeProcedure, c.opts...)
	stream, err := client.CallServerStream(ctx, connect.NewRequest(msg))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if !fn(stream.Msg().AsMap()) {
			return nil
		}
	}
	return stream.Err()
}
