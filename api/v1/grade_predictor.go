// Package gradingv1 declares the grading.v1.GradePredictor gRPC service.
//
// Messages are google.protobuf.Struct documents so the service needs no
// generated message types:
//
//	Predict       {"features": {"Nilai_Internal_1": 30, ...}}
//	PredictBatch  {"csv": "..."} or {"columns": [...], "rows": [[...], ...]}
//	GetModelInfo  {}
//	ReloadModel   {}
package gradingv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "grading.v1.GradePredictor"

const (
	GradePredictor_Predict_FullMethodName      = "/grading.v1.GradePredictor/Predict"
	GradePredictor_PredictBatch_FullMethodName = "/grading.v1.GradePredictor/PredictBatch"
	GradePredictor_GetModelInfo_FullMethodName = "/grading.v1.GradePredictor/GetModelInfo"
	GradePredictor_ReloadModel_FullMethodName  = "/grading.v1.GradePredictor/ReloadModel"
)

// GradePredictorServer is the server API for the GradePredictor service.
type GradePredictorServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PredictBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetModelInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReloadModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedGradePredictorServer can be embedded to have forward
// compatible implementations.
type UnimplementedGradePredictorServer struct{}

func (UnimplementedGradePredictorServer) Predict(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Predict not implemented")
}

func (UnimplementedGradePredictorServer) PredictBatch(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method PredictBatch not implemented")
}

func (UnimplementedGradePredictorServer) GetModelInfo(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetModelInfo not implemented")
}

func (UnimplementedGradePredictorServer) ReloadModel(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ReloadModel not implemented")
}

func RegisterGradePredictorServer(s grpc.ServiceRegistrar, srv GradePredictorServer) {
	s.RegisterService(&GradePredictor_ServiceDesc, srv)
}

type unaryCall func(GradePredictorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GradePredictorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GradePredictorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GradePredictor_ServiceDesc is the grpc.ServiceDesc for GradePredictor.
var GradePredictor_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GradePredictorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Predict",
			Handler:    unaryHandler(GradePredictor_Predict_FullMethodName, GradePredictorServer.Predict),
		},
		{
			MethodName: "PredictBatch",
			Handler:    unaryHandler(GradePredictor_PredictBatch_FullMethodName, GradePredictorServer.PredictBatch),
		},
		{
			MethodName: "GetModelInfo",
			Handler:    unaryHandler(GradePredictor_GetModelInfo_FullMethodName, GradePredictorServer.GetModelInfo),
		},
		{
			MethodName: "ReloadModel",
			Handler:    unaryHandler(GradePredictor_ReloadModel_FullMethodName, GradePredictorServer.ReloadModel),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "grading/v1/grade_predictor.proto",
}

// GradePredictorClient is the client API for the GradePredictor service.
type GradePredictorClient interface {
	Predict(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	PredictBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetModelInfo(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ReloadModel(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type gradePredictorClient struct {
	cc grpc.ClientConnInterface
}

func NewGradePredictorClient(cc grpc.ClientConnInterface) GradePredictorClient {
	return &gradePredictorClient{cc}
}

func (c *gradePredictorClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *gradePredictorClient) Predict(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GradePredictor_Predict_FullMethodName, in, opts)
}

func (c *gradePredictorClient) PredictBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GradePredictor_PredictBatch_FullMethodName, in, opts)
}

func (c *gradePredictorClient) GetModelInfo(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GradePredictor_GetModelInfo_FullMethodName, in, opts)
}

func (c *gradePredictorClient) ReloadModel(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GradePredictor_ReloadModel_FullMethodName, in, opts)
}
