package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const controlServiceName = "smartbolt.control.v1.ControlService"

// ControlServer is the gRPC face of the operator surface. Messages travel as
// google.protobuf.Struct carrying the same JSON documents the HTTP API serves.
type ControlServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRules(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ControlServiceDesc describes ControlService for grpc.Server.RegisterService.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: controlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unaryHandler("GetStatus", ControlServer.GetStatus)},
		{MethodName: "ListRules", Handler: unaryHandler("ListRules", ControlServer.ListRules)},
		{MethodName: "AddRule", Handler: unaryHandler("AddRule", ControlServer.AddRule)},
		{MethodName: "RemoveRule", Handler: unaryHandler("RemoveRule", ControlServer.RemoveRule)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "smartbolt/control/v1/control.proto",
}

func unaryHandler(method string, call func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + controlServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterControlServer exposes ctrl on s.
func RegisterControlServer(s *grpc.Server, ctrl *Controller, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.RegisterService(&ControlServiceDesc, &grpcControl{ctrl: ctrl, logger: logger.With("component", "grpc")})
}

type grpcControl struct {
	ctrl   *Controller
	logger *slog.Logger
}

var _ ControlServer = (*grpcControl)(nil)

func (g *grpcControl) GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(g.ctrl.Status())
}

func (g *grpcControl) ListRules(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"rules": g.ctrl.ListRules()})
}

func (g *grpcControl) AddRule(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var cfg RuleConfig
	if err := fromStruct(in, &cfg); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid rule: %v", err)
	}
	id, err := g.ctrl.AddRule(cfg)
	switch {
	case errors.Is(err, ErrDuplicateRule):
		return nil, status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrInvalidRule):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		g.logger.Error("rule.add_failed", "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toStruct(map[string]string{"rule_id": id})
}

func (g *grpcControl) RemoveRule(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	if !g.ctrl.RemoveRule(id) {
		return nil, status.Errorf(codes.NotFound, "rule not found: %s", id)
	}
	return toStruct(map[string]bool{"removed": true})
}

// toStruct goes through JSON so the struct mirrors the HTTP representation.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return fmt.Errorf("empty message")
	}
	raw, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
