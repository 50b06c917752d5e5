package grpc_control

import (
	"context"

	"card-market-tracker/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// MSourceInfo is one entry of ListSources.
type MSourceInfo struct {
	Phase          int     `json:"phase"`
	Name           string  `json:"name"`
	Source         string  `json:"source"`
	MaxConcurrency int     `json:"max_concurrency"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// ControlClient talks to a running daemon's control service.
type ControlClient struct {
	conn *grpc.ClientConn
}

// -----------------------------------------------------------------------------

func NewControlClient(addr string, opts ...grpc.DialOption) (*ControlClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &ControlClient{conn: conn}, nil
}

// -----------------------------------------------------------------------------

// TriggerRefresh runs a refresh remotely and waits for its artifact.
func (c *ControlClient) TriggerRefresh(ctx context.Context, asOf string) (*models.MRefreshRun, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"as_of": asOf, "wait": true})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodTriggerRefresh, req, out); err != nil {
		return nil, err
	}
	var run models.MRefreshRun
	if err := fromStruct(out, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// -----------------------------------------------------------------------------

func (c *ControlClient) GetLastRun(ctx context.Context) (*models.MRefreshRun, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetLastRun, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var run models.MRefreshRun
	if err := fromStruct(out, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// -----------------------------------------------------------------------------

func (c *ControlClient) ListSources(ctx context.Context) ([]MSourceInfo, bool, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodListSources, &emptypb.Empty{}, out); err != nil {
		return nil, false, err
	}
	var reply struct {
		Running bool          `json:"running"`
		Sources []MSourceInfo `json:"sources"`
	}
	if err := fromStruct(out, &reply); err != nil {
		return nil, false, err
	}
	return reply.Sources, reply.Running, nil
}

// -----------------------------------------------------------------------------

func (c *ControlClient) Close() error {
	return c.conn.Close()
}
