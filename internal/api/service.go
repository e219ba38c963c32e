package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "insights.v1.Intelligence"

// Method names served under ServiceName.
const (
	MethodCorrelateInsights    = "CorrelateInsights"
	MethodDetect               = "Detect"
	MethodForecast             = "Forecast"
	MethodTopForecasts         = "TopForecasts"
	MethodRelatedInsights      = "RelatedInsights"
	MethodSimilarInsightGroups = "SimilarInsightGroups"
	MethodAcknowledgeInsight   = "AcknowledgeInsight"
	MethodListIncidents        = "ListIncidents"
	MethodResolveIncident      = "ResolveIncident"
	MethodHealthCheck          = "HealthCheck"
)

// IntelligenceServer is the server API for the insights.v1.Intelligence service.
// Every request and response is a google.protobuf.Struct with snake_case keys.
type IntelligenceServer interface {
	CorrelateInsights(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Detect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Forecast(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TopForecasts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RelatedInsights(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SimilarInsightGroups(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcknowledgeInsight(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedIntelligenceServer answers every method with codes.Unimplemented.
// Embed it so implementations keep compiling when methods are added.
type UnimplementedIntelligenceServer struct{}

func (UnimplementedIntelligenceServer) CorrelateInsights(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodCorrelateInsights)
}

func (UnimplementedIntelligenceServer) Detect(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodDetect)
}

func (UnimplementedIntelligenceServer) Forecast(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodForecast)
}

func (UnimplementedIntelligenceServer) TopForecasts(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodTopForecasts)
}

func (UnimplementedIntelligenceServer) RelatedInsights(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodRelatedInsights)
}

func (UnimplementedIntelligenceServer) SimilarInsightGroups(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodSimilarInsightGroups)
}

func (UnimplementedIntelligenceServer) AcknowledgeInsight(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodAcknowledgeInsight)
}

func (UnimplementedIntelligenceServer) ListIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodListIncidents)
}

func (UnimplementedIntelligenceServer) ResolveIncident(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodResolveIncident)
}

func (UnimplementedIntelligenceServer) HealthCheck(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented(MethodHealthCheck)
}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

// RegisterIntelligenceServer attaches srv to a gRPC registrar.
func RegisterIntelligenceServer(s grpc.ServiceRegistrar, srv IntelligenceServer) {
	s.RegisterService(&IntelligenceServiceDesc, srv)
}

type unaryMethod func(IntelligenceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(IntelligenceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(name),
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		})
	}
}

// FullMethod returns the "/service/method" path for a method name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// IntelligenceServiceDesc is the grpc.ServiceDesc for insights.v1.Intelligence.
var IntelligenceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IntelligenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodCorrelateInsights, Handler: unaryHandler(MethodCorrelateInsights, IntelligenceServer.CorrelateInsights)},
		{MethodName: MethodDetect, Handler: unaryHandler(MethodDetect, IntelligenceServer.Detect)},
		{MethodName: MethodForecast, Handler: unaryHandler(MethodForecast, IntelligenceServer.Forecast)},
		{MethodName: MethodTopForecasts, Handler: unaryHandler(MethodTopForecasts, IntelligenceServer.TopForecasts)},
		{MethodName: MethodRelatedInsights, Handler: unaryHandler(MethodRelatedInsights, IntelligenceServer.RelatedInsights)},
		{MethodName: MethodSimilarInsightGroups, Handler: unaryHandler(MethodSimilarInsightGroups, IntelligenceServer.SimilarInsightGroups)},
		{MethodName: MethodAcknowledgeInsight, Handler: unaryHandler(MethodAcknowledgeInsight, IntelligenceServer.AcknowledgeInsight)},
		{MethodName: MethodListIncidents, Handler: unaryHandler(MethodListIncidents, IntelligenceServer.ListIncidents)},
		{MethodName: MethodResolveIncident, Handler: unaryHandler(MethodResolveIncident, IntelligenceServer.ResolveIncident)},
		{MethodName: MethodHealthCheck, Handler: unaryHandler(MethodHealthCheck, IntelligenceServer.HealthCheck)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "insights/v1/intelligence.proto",
}

// Client calls the Intelligence service over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with a request encoded from req and decodes the reply into resp.
// req and resp may be nil.
func (c *Client) Call(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	in, err := Encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return Decode(out, resp)
}
