package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a compiler service.
type Client struct {
	compile *connect.Client[CompileRequest, CompileResponse]
	inspect *connect.Client[InspectRequest, InspectResponse]
	run     *connect.Client[RunRequest, RunResponse]
	release *connect.Client[ReleaseRequest, ReleaseResponse]
}

// NewClient returns a client for the service at baseURL. It speaks the
// Connect protocol with JSON unless opts choose otherwise.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec)}, opts...)
	return &Client{
		compile: connect.NewClient[CompileRequest, CompileResponse](httpClient, baseURL+CompileProcedure, opts...),
		inspect: connect.NewClient[InspectRequest, InspectResponse](httpClient, baseURL+InspectProcedure, opts...),
		run:     connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, opts...),
		release: connect.NewClient[ReleaseRequest, ReleaseResponse](httpClient, baseURL+ReleaseProcedure, opts...),
	}
}

// Compile compiles a program on the server.
func (c *Client) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	resp, err := c.compile.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Inspect returns a printable view of a compiled image.
func (c *Client) Inspect(ctx context.Context, req *InspectRequest) (*InspectResponse, error) {
	resp, err := c.inspect.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Run executes an entry point of a compiled image.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Release drops a handle.
func (c *Client) Release(ctx context.Context, handle string) (bool, error) {
	resp, err := c.release.CallUnary(ctx, connect.NewRequest(&ReleaseRequest{Handle: handle}))
	if err != nil {
		return false, err
	}
	return resp.Msg.Released, nil
}
