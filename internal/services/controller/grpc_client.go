package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ControlClient calls ControlService on a running controller.
type ControlClient struct {
	conn *grpc.ClientConn
}

// DialControl opens a plaintext connection to addr. The connection is lazy: errors show up on the first call.
func DialControl(addr string, opts ...grpc.DialOption) (*ControlClient, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("control address is empty")
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &ControlClient{conn: conn}, nil
}

func (c *ControlClient) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+controlServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// decode maps a response back onto the JSON types used by the HTTP API.
func decode(s *structpb.Struct, out any) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// GetStatus returns the raw status document.
func (c *ControlClient) GetStatus(ctx context.Context) (map[string]any, error) {
	out, err := c.invoke(ctx, "GetStatus", nil)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *ControlClient) ListRules(ctx context.Context) ([]RuleSnapshot, error) {
	out, err := c.invoke(ctx, "ListRules", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Rules []RuleSnapshot `json:"rules"`
	}
	if err := decode(out, &resp); err != nil {
		return nil, err
	}
	return resp.Rules, nil
}

// AddRule returns the id the controller assigned to cfg.
func (c *ControlClient) AddRule(ctx context.Context, cfg RuleConfig) (string, error) {
	in, err := toStruct(cfg)
	if err != nil {
		return "", err
	}
	out, err := c.invoke(ctx, "AddRule", in)
	if err != nil {
		return "", err
	}
	return out.GetFields()["rule_id"].GetStringValue(), nil
}

func (c *ControlClient) RemoveRule(ctx context.Context, id string) error {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, "RemoveRule", in)
	return err
}

func (c *ControlClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
