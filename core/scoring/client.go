package scoring

import (
	"context"

	"dsphmm/common"

	"google.golang.org/grpc"
)

// Client calls a remote scoring service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(common.JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *Client) Classify(ctx context.Context, in *ClassifyRequest, opts ...grpc.CallOption) (*ClassifyResponse, error) {
	out := new(ClassifyResponse)
	if err := c.invoke(ctx, "Classify", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Decode(ctx context.Context, in *DecodeRequest, opts ...grpc.CallOption) (*DecodeResponse, error) {
	out := new(DecodeResponse)
	if err := c.invoke(ctx, "Decode", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Models(ctx context.Context, in *ModelsRequest, opts ...grpc.CallOption) (*ModelsResponse, error) {
	out := new(ModelsResponse)
	if err := c.invoke(ctx, "Models", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
