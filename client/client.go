// Package client talks to a running saiagent's diagnostic service.
//
//	c, err := client.Dial("/run/saiagent-sock/saiagent.sock")
//	c, err := client.Dial("localhost:50051")
//
// Responses are the service's JSON-shaped structs decoded into maps.
package client

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/frobware/go-saiagent/server"
)

// Client is a diagnostic service client.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the agent at address, a unix socket path or a TCP
// host:port.
func Dial(address string) (*Client, error) {
	target := parseAddress(address)
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// New wraps an existing connection. Close closes it.
func New(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// parseAddress normalises an address for gRPC.
// Handles Unix socket paths (unix:// prefix or absolute paths starting with /)
// and TCP addresses (host:port).
func parseAddress(address string) string {
	if strings.HasPrefix(address, "unix://") {
		return address
	}
	if strings.HasPrefix(address, "/") {
		return "unix://" + address
	}
	return address
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Healthy reports whether the diagnostic service is serving.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Status returns the switch's boot type, ids and object counts.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, server.MethodStatus, nil)
}

// PortHandle describes the hardware objects behind a port.
func (c *Client) PortHandle(ctx context.Context, port uint32) (map[string]any, error) {
	return c.call(ctx, server.MethodGetPortHandle, map[string]any{"port": port})
}

// RouteHandle describes a route.
func (c *Client) RouteHandle(ctx context.Context, router uint32, prefix string) (map[string]any, error) {
	return c.call(ctx, server.MethodGetRouteHandle, map[string]any{"router": router, "prefix": prefix})
}

// NeighborHandle describes a neighbor.
func (c *Client) NeighborHandle(ctx context.Context, intf uint32, ip string) (map[string]any, error) {
	return c.call(ctx, server.MethodGetNeighborHandle, map[string]any{"interface": intf, "ip": ip})
}

// ListObjects lists managed objects. An empty manager lists them all.
func (c *Client) ListObjects(ctx context.Context, manager string) (map[string]any, error) {
	req := map[string]any{}
	if manager != "" {
		req["manager"] = manager
	}
	return c.call(ctx, server.MethodListObjects, req)
}

// PortStats returns port counters. A nil port returns every port.
func (c *Client) PortStats(ctx context.Context, port *uint32) (map[string]any, error) {
	req := map[string]any{}
	if port != nil {
		req["port"] = *port
	}
	return c.call(ctx, server.MethodPortStats, req)
}

// Doctor runs the agent's coherency checks.
func (c *Client) Doctor(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, server.MethodDoctor, nil)
}
