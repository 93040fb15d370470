package server

import (
	"context"
	"errors"
	"net/netip"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/hwswitch"
	"github.com/frobware/go-saiagent/manager"
	"github.com/frobware/go-saiagent/sai"
)

// ServiceName is the fully qualified name of the diagnostic service.
const ServiceName = "saiagent.v1.Diagnostics"

// Full method names of the diagnostic service. Every method takes and
// returns a google.protobuf.Struct.
const (
	MethodStatus            = "/" + ServiceName + "/Status"
	MethodGetPortHandle     = "/" + ServiceName + "/GetPortHandle"
	MethodGetRouteHandle    = "/" + ServiceName + "/GetRouteHandle"
	MethodGetNeighborHandle = "/" + ServiceName + "/GetNeighborHandle"
	MethodListObjects       = "/" + ServiceName + "/ListObjects"
	MethodPortStats         = "/" + ServiceName + "/PortStats"
	MethodDoctor            = "/" + ServiceName + "/Doctor"
)

// diagnostics is the server side of the diagnostic service.
type diagnostics interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPortHandle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRouteHandle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNeighborHandle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListObjects(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PortStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Doctor(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(name string, call func(diagnostics, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			d := srv.(diagnostics)
			if interceptor == nil {
				return call(d, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(d, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*diagnostics)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Status", diagnostics.Status),
		unaryHandler("GetPortHandle", diagnostics.GetPortHandle),
		unaryHandler("GetRouteHandle", diagnostics.GetRouteHandle),
		unaryHandler("GetNeighborHandle", diagnostics.GetNeighborHandle),
		unaryHandler("ListObjects", diagnostics.ListObjects),
		unaryHandler("PortStats", diagnostics.PortStats),
		unaryHandler("Doctor", diagnostics.Doctor),
	},
	Metadata: "saiagent/v1/diagnostics",
}

// toStatus maps agent errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, saiagent.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, hwswitch.ErrNotInitialized), errors.Is(err, hwswitch.ErrExited):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, saiagent.ErrUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func numberField(in *structpb.Struct, name string) (uint32, bool, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, false, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue < 0 || n.NumberValue != float64(uint32(n.NumberValue)) {
		return 0, false, status.Errorf(codes.InvalidArgument, "%s: want a non-negative integer", name)
	}
	return uint32(n.NumberValue), true, nil
}

func requiredNumber(in *structpb.Struct, name string) (uint32, error) {
	n, ok, err := numberField(in, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return n, nil
}

func requiredString(in *structpb.Struct, name string) (string, error) {
	v, ok := in.GetFields()[name]
	if !ok || v.GetStringValue() == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v.GetStringValue(), nil
}

// Status reports how the switch came up and how many objects it holds.
func (s *Server) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	counts := map[string]any{}
	for t, n := range s.sw.ObjectCounts() {
		counts[t.String()] = n
	}
	ev := s.sw.EventStats()
	return newStruct(map[string]any{
		"boot_type":   string(s.sw.BootType()),
		"instance_id": s.sw.InstanceID(),
		"switch_id":   s.sw.SwitchID().String(),
		"objects":     counts,
		"events": map[string]any{
			"packets_received": float64(ev.PacketsReceived),
			"packets_dropped":  float64(ev.PacketsDropped),
			"packets_unknown":  float64(ev.PacketsUnknown),
			"link_events":      float64(ev.LinkEvents),
		},
	})
}

// GetPortHandle describes the hardware objects behind a port.
// Request: {"port": <id>}.
func (s *Server) GetPortHandle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredNumber(in, "port")
	if err != nil {
		return nil, err
	}
	var out map[string]any
	err = s.sw.With(func(t *manager.ManagerTable) error {
		h, err := t.Ports.GetPortHandle(saiagent.PortID(id))
		if err != nil {
			return err
		}
		attrs := h.Attributes()
		lanes := make([]any, len(attrs.Lanes))
		for i, l := range attrs.Lanes {
			lanes[i] = float64(l)
		}
		out = map[string]any{
			"port":        float64(id),
			"name":        h.Port.Name,
			"id":          h.ID().String(),
			"bridge_port": h.BridgePortID().String(),
			"scheduler":   h.SchedulerID().String(),
			"oper_up":     h.OperUp(),
			"lanes":       lanes,
			"speed_mbps":  float64(attrs.Speed),
			"admin_up":    attrs.AdminState,
			"mtu":         float64(attrs.Mtu),
		}
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(out)
}

// GetRouteHandle describes a programmed route.
// Request: {"prefix": "10.0.0.0/8", "router": <id>}.
func (s *Server) GetRouteHandle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := requiredString(in, "prefix")
	if err != nil {
		return nil, err
	}
	prefix, err := netip.ParsePrefix(raw)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "prefix: %v", err)
	}
	router, _, err := numberField(in, "router")
	if err != nil {
		return nil, err
	}
	key := saiagent.RouteKey{Router: saiagent.RouterID(router), Prefix: prefix.Masked()}

	var out map[string]any
	err = s.sw.With(func(t *manager.ManagerTable) error {
		h, err := t.Routes.GetRouteHandle(key)
		if err != nil {
			return err
		}
		out = map[string]any{
			"route":   key.String(),
			"action":  string(h.Route.Action),
			"skipped": h.Skipped(),
		}
		if h.Skipped() {
			return nil
		}
		out["adapter_key"] = h.AdapterKey().String()
		attrs := h.Attributes()
		out["packet_action"] = float64(attrs.PacketAction)
		out["next_hop"] = attrs.NextHop.String()
		out["class_id"] = float64(attrs.Metadata)
		if g := h.NextHopGroup(); g != nil {
			out["next_hop_group"] = map[string]any{
				"id":          g.ID().String(),
				"fixed_width": g.FixedWidth(),
				"members":     float64(g.MemberCount()),
			}
		}
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(out)
}

// GetNeighborHandle describes a neighbor and its next hop.
// Request: {"interface": <id>, "ip": "10.0.0.2"}.
func (s *Server) GetNeighborHandle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	intf, err := requiredNumber(in, "interface")
	if err != nil {
		return nil, err
	}
	raw, err := requiredString(in, "ip")
	if err != nil {
		return nil, err
	}
	ip, err := netip.ParseAddr(raw)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "ip: %v", err)
	}
	key := saiagent.NeighborKey{Interface: saiagent.InterfaceID(intf), IP: ip}

	var out map[string]any
	err = s.sw.With(func(t *manager.ManagerTable) error {
		h, err := t.Neighbors.GetNeighborHandle(key)
		if err != nil {
			return err
		}
		out = map[string]any{
			"neighbor":         key.String(),
			"programmed":       h.Programmed(),
			"link_down":        h.LinkDown(),
			"router_interface": h.RouterInterfaceID().String(),
		}
		if h.Programmed() {
			out["adapter_key"] = h.AdapterKey().String()
			out["next_hop"] = h.NextHopID().String()
			out["mac"] = h.Neighbor.MAC.String()
		}
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(out)
}

// ListObjects lists every managed object, optionally for one manager.
// Request: {"manager": "route"}.
func (s *Server) ListObjects(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	filter := in.GetFields()["manager"].GetStringValue()
	var objects []any
	err := s.sw.With(func(t *manager.ManagerTable) error {
		for _, o := range t.ListManagedObjects() {
			if filter != "" && o.Manager != filter {
				continue
			}
			objects = append(objects, map[string]any{
				"manager":     o.Manager,
				"key":         o.Key,
				"adapter_key": o.AdapterKey,
				"detail":      o.Detail,
			})
		}
		return nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"objects": objects})
}

func statsValue(stats map[sai.StatID]uint64) map[string]any {
	out := make(map[string]any, len(stats))
	for id, v := range stats {
		out[sai.PortStatName(id)] = float64(v)
	}
	return out
}

// PortStats returns the last collected counters of one port, or of
// every port when the request names none. Request: {"port": <id>}.
func (s *Server) PortStats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, ok, err := numberField(in, "port")
	if err != nil {
		return nil, err
	}
	ports := map[string]any{}
	if ok {
		stats, err := s.sw.PortStats(saiagent.PortID(id))
		if err != nil {
			return nil, toStatus(err)
		}
		ports[strconv.FormatUint(uint64(id), 10)] = statsValue(stats)
	} else {
		for pid, stats := range s.sw.AllPortStats() {
			ports[strconv.FormatUint(uint64(pid), 10)] = statsValue(stats)
		}
	}
	return newStruct(map[string]any{"ports": ports})
}

// Doctor checks the managers, the store and the hardware agree.
func (s *Server) Doctor(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	report, err := s.sw.Doctor(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	findings := make([]any, 0, len(report.Findings))
	for _, f := range report.Findings {
		findings = append(findings, findingValue(f))
	}
	return newStruct(map[string]any{
		"findings": findings,
		"errors":   report.HasErrors(),
		"warnings": report.HasWarnings(),
	})
}

func findingValue(f manager.Finding) map[string]any {
	return map[string]any{
		"severity":    f.Severity.String(),
		"category":    f.Category,
		"description": f.Description,
	}
}
