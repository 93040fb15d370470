package manager_test

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/compute"
	"github.com/frobware/go-saiagent/indices"
	"github.com/frobware/go-saiagent/manager"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/sai/fake"
	"github.com/frobware/go-saiagent/store"
	"github.com/frobware/go-saiagent/warmboot"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set SAIAGENT_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("SAIAGENT_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFixture provides access to all components for verification.
type testFixture struct {
	API      *fake.Adapter
	Store    *store.Store
	Indices  *indices.ConcurrentIndices
	Managers *manager.ManagerTable
	SwitchID sai.ObjectID
	State    saiagent.SwitchState
	t        *testing.T
}

// newTestFixture creates a switch on a fake adapter with its managers
// attached to the adapter owned objects.
func newTestFixture(t *testing.T, platform manager.Platform) *testFixture {
	t.Helper()
	ctx := context.Background()
	api := fake.New()
	sw, err := api.Create(ctx, sai.ObjectTypeSwitch, sai.NullObjectID, nil)
	require.NoError(t, err, "failed to create switch")
	f := &testFixture{API: api, SwitchID: sw, t: t}
	f.attach(platform)
	return f
}

// attach builds a fresh store and manager table over the fixture's
// adapter. A non-nil doc is reloaded into the store first.
func (f *testFixture) attach(platform manager.Platform, doc ...*warmboot.Document) {
	f.t.Helper()
	ctx := context.Background()
	f.Store = store.New(f.API, f.SwitchID, testLogger())
	for _, d := range doc {
		require.NoError(f.t, f.Store.Reload(ctx, d), "reload")
	}
	f.Indices = indices.New()
	f.Managers = manager.New(f.Store, f.Indices, platform, testLogger())
	require.NoError(f.t, f.Managers.Switch.LoadAdapterOwned(ctx), "load adapter owned objects")
	f.State = saiagent.NewSwitchState()
}

// Apply reconciles hardware with state and records it as current. On
// failure the state the managers actually hold becomes current, as the
// switch does.
func (f *testFixture) Apply(state saiagent.SwitchState) error {
	f.t.Helper()
	if err := f.Managers.ApplyDelta(context.Background(), compute.Delta(f.State, state)); err != nil {
		f.State = f.Managers.AppliedState()
		return err
	}
	f.State = state
	return nil
}

// MustApply is Apply that fails the test on error.
func (f *testFixture) MustApply(state saiagent.SwitchState) {
	f.t.Helper()
	require.NoError(f.t, f.Apply(state))
}

// Members returns the number of next hop group members in hardware.
func (f *testFixture) Members() int {
	return f.API.Len(sai.ObjectTypeNextHopGroupMember)
}

// Groups returns the number of next hop groups in hardware.
func (f *testFixture) Groups() int {
	return f.API.Len(sai.ObjectTypeNextHopGroup)
}

func port(id saiagent.PortID, group uint32, lanes ...uint32) saiagent.Port {
	return saiagent.Port{
		ID:        id,
		Name:      "eth" + string(rune('0'+id)),
		Lanes:     lanes,
		Group:     group,
		SpeedMbps: 100000,
		FEC:       saiagent.FECRS528,
		AdminUp:   true,
		MTU:       9412,
	}
}

func mac(s string) saiagent.MacAddress {
	m, err := saiagent.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Next hops A, B, C and D of the scenario state, one per port.
var (
	nhA = saiagent.NextHop{Interface: 1, IP: netip.MustParseAddr("10.0.1.2")}
	nhB = saiagent.NextHop{Interface: 2, IP: netip.MustParseAddr("10.0.2.2")}
	nhC = saiagent.NextHop{Interface: 3, IP: netip.MustParseAddr("10.0.3.2")}
	nhD = saiagent.NextHop{Interface: 4, IP: netip.MustParseAddr("10.0.4.2")}
)

// routedState returns four ports, each with a port router interface
// 10.0.<n>.1/24 and a pending neighbor 10.0.<n>.2 on it.
func routedState() saiagent.SwitchState {
	s := saiagent.NewSwitchState()
	for i := saiagent.PortID(1); i <= 4; i++ {
		s.Ports[i] = port(i, uint32(i), uint32(i)*4, uint32(i)*4+1)
		intf := saiagent.InterfaceID(i)
		s.Interfaces[intf] = saiagent.Interface{
			ID:        intf,
			Port:      i,
			MAC:       mac("02:00:00:00:00:01"),
			MTU:       9000,
			Addresses: []netip.Prefix{netip.PrefixFrom(netip.AddrFrom4([4]byte{10, 0, byte(i), 1}), 24)},
		}
		n := saiagent.Neighbor{
			Interface: intf,
			IP:        netip.AddrFrom4([4]byte{10, 0, byte(i), 2}),
			Port:      i,
			Pending:   true,
		}
		s.Neighbors[n.Key()] = n
	}
	return s
}

// clone copies a state so that tests can derive the next one.
func clone(s saiagent.SwitchState) saiagent.SwitchState {
	out := saiagent.NewSwitchState()
	for k, v := range s.Ports {
		out.Ports[k] = v
	}
	for k, v := range s.Vlans {
		members := make(map[saiagent.PortID]bool, len(v.Members))
		for p, tagged := range v.Members {
			members[p] = tagged
		}
		v.Members = members
		out.Vlans[k] = v
	}
	for k, v := range s.Interfaces {
		out.Interfaces[k] = v
	}
	for k, v := range s.Routes {
		out.Routes[k] = v
	}
	for k, v := range s.Neighbors {
		out.Neighbors[k] = v
	}
	for k, v := range s.Mirrors {
		out.Mirrors[k] = v
	}
	return out
}

// resolve marks the neighbor behind nh resolved.
func resolve(s saiagent.SwitchState, nh saiagent.NextHop) {
	n := s.Neighbors[nh.Neighbor()]
	n.Pending = false
	n.MAC = mac("02:00:00:00:01:02")
	s.Neighbors[nh.Neighbor()] = n
}

// unresolve marks the neighbor behind nh pending.
func unresolve(s saiagent.SwitchState, nh saiagent.NextHop) {
	n := s.Neighbors[nh.Neighbor()]
	n.Pending = true
	n.MAC = saiagent.MacAddress{}
	s.Neighbors[nh.Neighbor()] = n
}

func ecmpRoute(prefix string, nhs ...saiagent.NextHop) saiagent.Route {
	return saiagent.Route{
		Prefix:   netip.MustParsePrefix(prefix),
		Action:   saiagent.RouteActionNextHops,
		NextHops: nhs,
	}
}
