package grpc_control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"card-market-tracker/src/helpers"
	"card-market-tracker/src/interfaces"
	"card-market-tracker/src/logger"
	"card-market-tracker/src/orchestrator"

	datasource "card-market-tracker/src/data_source"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "cardmetrics.control.v1.RefreshControl"

	methodTriggerRefresh = "/" + ServiceName + "/TriggerRefresh"
	methodGetLastRun     = "/" + ServiceName + "/GetLastRun"
	methodListSources    = "/" + ServiceName + "/ListSources"
)

// RefreshControlServer is the control contract. Requests and replies are
// well-known Struct messages carrying the JSON shape of the run artifact.
type RefreshControlServer interface {
	// TriggerRefresh accepts {"as_of": "YYYY-MM-DD", "wait": bool}.
	TriggerRefresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLastRun(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListSources(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// ControlService implements RefreshControlServer on top of the orchestrator.
type ControlService struct {
	Runner     interfaces.IRefreshRunner
	DataSource *datasource.MultiSourceManager
	Logger     *logger.Logger

	// background runs started with wait=false
	runCtx context.Context
}

// NewControlService creates a new instance of ControlService
func NewControlService(ctx context.Context, runner interfaces.IRefreshRunner, ds *datasource.MultiSourceManager, log *logger.Logger) *ControlService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ControlService{Runner: runner, DataSource: ds, Logger: log, runCtx: ctx}
}

// -----------------------------------------------------------------------------

// RegisterRefreshControlServer attaches the service to a gRPC server.
func RegisterRefreshControlServer(s *grpc.Server, srv RefreshControlServer) {
	s.RegisterService(&RefreshControl_ServiceDesc, srv)
}

// -----------------------------------------------------------------------------

func (s *ControlService) TriggerRefresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	asOf := ""
	wait := true
	if req != nil {
		if v, ok := req.GetFields()["as_of"]; ok {
			asOf = v.GetStringValue()
		}
		if v, ok := req.GetFields()["wait"]; ok {
			wait = v.GetBoolValue()
		}
	}

	if !wait {
		if s.Runner.Running() {
			return nil, status.Error(codes.Aborted, orchestrator.ErrRunInProgress.Error())
		}
		go func() {
			if _, err := s.Runner.Run(s.runCtx, asOf); err != nil {
				s.Logger.Error("gRPC: background refresh: %v", err)
			}
		}()
		s.Logger.Info("gRPC: refresh for %q started in background", asOf)
		return structpb.NewStruct(map[string]interface{}{"accepted": true, "as_of": asOf})
	}

	run, err := s.Runner.Run(ctx, asOf)
	if err != nil {
		var cfgErr *helpers.ConfigurationError
		switch {
		case errors.Is(err, orchestrator.ErrRunInProgress):
			return nil, status.Error(codes.Aborted, err.Error())
		case errors.As(err, &cfgErr):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case run == nil:
			return nil, status.Error(codes.Internal, err.Error())
		}
		// a failed run is still an answer: the artifact carries the error
	}
	return toStruct(run)
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetLastRun(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	run, err := s.Runner.LastRun()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read run status: %v", err)
	}
	if run == nil {
		return nil, status.Error(codes.NotFound, "no run recorded")
	}
	return toStruct(run)
}

// -----------------------------------------------------------------------------

func (s *ControlService) ListSources(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var sources []interface{}
	for i, src := range s.DataSource.GetAllSources() {
		sources = append(sources, map[string]interface{}{
			"phase":           i + 1,
			"name":            src.Name(),
			"source":          string(src.Source()),
			"max_concurrency": src.MaxConcurrency(),
			"timeout_seconds": src.Timeout().Seconds(),
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"running": s.Runner.Running(),
		"sources": sources,
	})
}

// -----------------------------------------------------------------------------

// toStruct converts any JSON-tagged value into a Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// fromStruct is the inverse of toStruct.
func fromStruct(s *structpb.Struct, v interface{}) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Service descriptor
// -----------------------------------------------------------------------------

func _RefreshControl_TriggerRefresh_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RefreshControlServer).TriggerRefresh(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodTriggerRefresh}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RefreshControlServer).TriggerRefresh(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _RefreshControl_GetLastRun_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RefreshControlServer).GetLastRun(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetLastRun}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RefreshControlServer).GetLastRun(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _RefreshControl_ListSources_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RefreshControlServer).ListSources(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListSources}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RefreshControlServer).ListSources(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// RefreshControl_ServiceDesc is the grpc.ServiceDesc for the control service.
var RefreshControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RefreshControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TriggerRefresh", Handler: _RefreshControl_TriggerRefresh_Handler},
		{MethodName: "GetLastRun", Handler: _RefreshControl_GetLastRun_Handler},
		{MethodName: "ListSources", Handler: _RefreshControl_ListSources_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cardmetrics/control/v1/control.proto",
}
