package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	assessMethod       = "/" + serviceName + "/Assess"
	getReportMethod    = "/" + serviceName + "/GetReport"
	listHandoffsMethod = "/" + serviceName + "/ListHandoffs"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*QualityGateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Assess", Handler: assessHandler},
		{MethodName: "GetReport", Handler: getReportHandler},
		{MethodName: "ListHandoffs", Handler: listHandoffsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "splatgate/v1/gate.proto",
}

func assessHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QualityGateServer).Assess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: assessMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QualityGateServer).Assess(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getReportHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QualityGateServer).GetReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getReportMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QualityGateServer).GetReport(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listHandoffsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QualityGateServer).ListHandoffs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listHandoffsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QualityGateServer).ListHandoffs(ctx, req.(*wrapperspb.Int32Value))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls the QualityGate service over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Assess runs the gate on a path local to the server. threshold < 0 uses
// the server's configured threshold.
func (c *Client) Assess(ctx context.Context, source string, threshold int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	fields := map[string]any{"source": source}
	if threshold >= 0 {
		fields["threshold"] = threshold
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, assessMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetReport(ctx context.Context, jobID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getReportMethod, wrapperspb.String(jobID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListHandoffs(ctx context.Context, limit int32, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, listHandoffsMethod, wrapperspb.Int32(limit), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
