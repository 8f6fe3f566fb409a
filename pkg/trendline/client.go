package trendline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

var runBacktestStream = &grpc.StreamDesc{
	StreamName:    "RunBacktest",
	ServerStreams: true,
}

// Client calls the backtest service.
type Client struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
}

// Dial connects to addr. Without options the connection is plaintext.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, closer: conn}, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close releases the connection opened by Dial.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// ListStrategies returns the strategies the server can run.
func (c *Client) ListStrategies(ctx context.Context) ([]StrategyInfo, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodListStrategies, &structpb.Struct{}, out); err != nil {
		return nil, err
	}
	return parseStrategies(out), nil
}

// GetRun fetches a persisted run.
func (c *Client) GetRun(ctx context.Context, id string) (*RunInfo, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{"id": structpb.NewStringValue(id)}}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodGetRun, in, out); err != nil {
		return nil, err
	}
	r := parseRunInfo(out)
	return &r, nil
}

// RunBacktest starts a run and calls onEvent for every streamed event, in
// order, before returning the final summary. onEvent may be nil.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest, onEvent func(Event)) (*Summary, error) {
	in, err := req.Struct()
	if err != nil {
		return nil, err
	}
	stream, err := c.conn.NewStream(ctx, runBacktestStream, MethodRunBacktest)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	var summary *Summary
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		ev, sum, err := DecodeStreamMessage(msg)
		if err != nil {
			return nil, err
		}
		if ev != nil && onEvent != nil {
			onEvent(*ev)
		}
		if sum != nil {
			summary = sum
		}
	}
	if summary == nil {
		return nil, fmt.Errorf("stream ended without a summary")
	}
	return summary, nil
}
