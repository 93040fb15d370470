package hwswitch_test

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/hwswitch"
	"github.com/frobware/go-saiagent/interpreter"
	"github.com/frobware/go-saiagent/interpreter/store/sqlite"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/sai/fake"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testLogger returns a logger for tests. By default it discards all output.
// Set SAIAGENT_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("SAIAGENT_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStateStore(t *testing.T) interpreter.StateStore {
	t.Helper()
	st, err := sqlite.NewInMemory(context.Background(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newSwitch(t *testing.T, api *fake.Adapter, st interpreter.StateStore, cfg hwswitch.Config) *hwswitch.Switch {
	t.Helper()
	sw, err := hwswitch.New(cfg, api, st, testLogger())
	require.NoError(t, err)
	return sw
}

func mac(s string) saiagent.MacAddress {
	m, err := saiagent.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// testState returns two routed ports with a resolved neighbor each and
// an ECMP route over both.
func testState() saiagent.SwitchState {
	s := saiagent.NewSwitchState()
	var nhs []saiagent.NextHop
	for i := saiagent.PortID(1); i <= 2; i++ {
		s.Ports[i] = saiagent.Port{
			ID: i, Name: "eth" + string(rune('0'+i)), Lanes: []uint32{uint32(i) * 4},
			Group: uint32(i), SpeedMbps: 100000, FEC: saiagent.FECRS528, AdminUp: true, MTU: 9412,
		}
		intf := saiagent.InterfaceID(i)
		s.Interfaces[intf] = saiagent.Interface{
			ID: intf, Port: i, MAC: mac("02:00:00:00:00:01"), MTU: 9000,
			Addresses: []netip.Prefix{netip.PrefixFrom(netip.AddrFrom4([4]byte{10, 0, byte(i), 1}), 24)},
		}
		n := saiagent.Neighbor{
			Interface: intf, IP: netip.AddrFrom4([4]byte{10, 0, byte(i), 2}),
			Port: i, MAC: mac("02:00:00:00:01:02"),
		}
		s.Neighbors[n.Key()] = n
		nhs = append(nhs, saiagent.NextHop{Interface: intf, IP: n.IP})
	}
	r := saiagent.Route{Prefix: netip.MustParsePrefix("192.168.0.0/16"), Action: saiagent.RouteActionNextHops, NextHops: nhs}
	s.Routes[r.Key()] = r
	return s
}

func TestColdBoot(t *testing.T) {
	ctx := context.Background()
	api := fake.New()
	st := newStateStore(t)
	sw := newSwitch(t, api, st, hwswitch.Config{WarmBoot: true})

	bootType, err := sw.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, hwswitch.BootTypeCold, bootType, "no persisted state")
	assert.NotEmpty(t, sw.InstanceID())
	assert.False(t, sw.SwitchID().IsNull())

	_, err = sw.Init(ctx)
	assert.Error(t, err, "init twice")

	require.NoError(t, sw.StateChanged(ctx, testState()))
	assert.Equal(t, 2, api.Len(sai.ObjectTypePort))
	assert.Equal(t, 2, api.Len(sai.ObjectTypeNextHopGroupMember))
	assert.Equal(t, 2, sw.ObjectCounts()[sai.ObjectTypeNeighborEntry])
	assert.Len(t, sw.State().Routes, 1)

	hw, ok := sw.Indices().PortSaiID(1)
	require.True(t, ok, "ports are indexed")
	assert.True(t, api.Exists(sai.ObjectTypePort, hw))

	boots, err := st.ListBoots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, boots, 1)
	assert.Equal(t, "cold", boots[0].BootType)
	assert.Equal(t, sw.InstanceID(), boots[0].InstanceID)

	require.NoError(t, sw.CompleteWarmBoot(ctx), "no-op after a cold boot")
}

func TestCallsBeforeInit(t *testing.T) {
	sw := newSwitch(t, fake.New(), newStateStore(t), hwswitch.Config{})
	assert.ErrorIs(t, sw.StateChanged(context.Background(), saiagent.NewSwitchState()), hwswitch.ErrNotInitialized)
	assert.ErrorIs(t, sw.UpdateStats(context.Background()), hwswitch.ErrNotInitialized)
	assert.Nil(t, sw.ObjectCounts())
}

func TestInvalidStateIsRejected(t *testing.T) {
	ctx := context.Background()
	sw := newSwitch(t, fake.New(), newStateStore(t), hwswitch.Config{})
	_, err := sw.Init(ctx)
	require.NoError(t, err)

	s := saiagent.NewSwitchState()
	s.Vlans[10] = saiagent.Vlan{ID: 10, Members: map[saiagent.PortID]bool{7: false}}
	assert.ErrorIs(t, sw.StateChanged(ctx, s), saiagent.ErrNotFound)
}

func TestFailedBatchRebasesOnAppliedState(t *testing.T) {
	ctx := context.Background()
	api := fake.New()
	sw := newSwitch(t, api, newStateStore(t), hwswitch.Config{})
	_, err := sw.Init(ctx)
	require.NoError(t, err)

	api.FailNext("create", sai.ObjectTypeNextHopGroup, sai.StatusTableFull, 1)
	err = sw.StateChanged(ctx, testState())
	require.Error(t, err)
	assert.True(t, sai.IsStatus(err, sai.StatusTableFull), "got %v", err)
	assert.Empty(t, sw.State().Routes)
	assert.Len(t, sw.State().Ports, 2, "ports were applied before the failure")
	assert.Len(t, sw.State().Neighbors, 2)

	require.NoError(t, sw.StateChanged(ctx, testState()), "retry adds only what is missing")
	assert.Equal(t, 1, api.Count("create", sai.ObjectTypeNextHopGroup))
	assert.Equal(t, 2, api.Count("create", sai.ObjectTypePort))
	assert.Equal(t, 2, api.Count("create", sai.ObjectTypeNeighborEntry))
	assert.Len(t, sw.State().Routes, 1)
}

func TestWarmBootRoundTrip(t *testing.T) {
	ctx := context.Background()
	api := fake.New()
	st := newStateStore(t)
	cfg := hwswitch.Config{WarmBoot: true}

	first := newSwitch(t, api, st, cfg)
	_, err := first.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, first.StateChanged(ctx, testState()))
	require.NoError(t, first.ExitForWarmBoot(ctx))
	assert.ErrorIs(t, first.StateChanged(ctx, testState()), hwswitch.ErrExited)
	assert.Equal(t, 2, api.Len(sai.ObjectTypePort), "hardware is left programmed")

	saved, err := st.ListWarmbootStates(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, first.InstanceID(), saved[0].InstanceID)

	second := newSwitch(t, api, st, cfg)
	bootType, err := second.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, hwswitch.BootTypeWarm, bootType)
	assert.Equal(t, first.SwitchID(), second.SwitchID())
	assert.Error(t, second.ExitForWarmBoot(ctx), "warm boot still pending")

	api.ResetOperations()
	require.NoError(t, second.StateChanged(ctx, testState()))
	require.NoError(t, second.CompleteWarmBoot(ctx))
	for _, op := range api.Operations() {
		assert.NotEqual(t, "create", op.Op, "unexpected %s", op)
		assert.NotEqual(t, "remove", op.Op, "unexpected %s", op)
	}

	_, err = st.LoadWarmbootState(ctx, 0)
	assert.ErrorIs(t, err, saiagent.ErrNotFound, "cleared once complete")
	boots, err := st.ListBoots(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "warm", boots[0].BootType)
	assert.Zero(t, boots[0].Unclaimed)
}

func TestWarmBootRemovesWhatTheNewStateDropped(t *testing.T) {
	ctx := context.Background()
	api := fake.New()
	st := newStateStore(t)
	cfg := hwswitch.Config{WarmBoot: true}

	first := newSwitch(t, api, st, cfg)
	_, err := first.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, first.StateChanged(ctx, testState()))
	require.NoError(t, first.ExitForWarmBoot(ctx))

	smaller := testState()
	for k := range smaller.Routes {
		delete(smaller.Routes, k)
	}
	second := newSwitch(t, api, st, cfg)
	_, err = second.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, second.StateChanged(ctx, smaller))

	api.ResetOperations()
	require.NoError(t, second.CompleteWarmBoot(ctx))
	assert.Equal(t, 1, api.Count("remove", sai.ObjectTypeRouteEntry))
	assert.Equal(t, 1, api.Count("remove", sai.ObjectTypeNextHopGroup))
	assert.Equal(t, 2, api.Count("remove", sai.ObjectTypeNextHopGroupMember))

	boots, err := st.ListBoots(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, boots[0].Unclaimed)
}

func TestWarmBootDisabledBootsCold(t *testing.T) {
	ctx := context.Background()
	api := fake.New()
	st := newStateStore(t)

	first := newSwitch(t, api, st, hwswitch.Config{WarmBoot: true})
	_, err := first.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, first.ExitForWarmBoot(ctx))

	second := newSwitch(t, fake.New(), st, hwswitch.Config{WarmBoot: false})
	bootType, err := second.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, hwswitch.BootTypeCold, bootType)
}

// runSwitch runs the event workers until the test ends.
func runSwitch(t *testing.T, sw *hwswitch.Switch) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestLinkDownUnresolvesNeighbors(t *testing.T) {
	ctx := context.Background()
	api := fake.New()
	sw := newSwitch(t, api, newStateStore(t), hwswitch.Config{})
	_, err := sw.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, sw.StateChanged(ctx, testState()))

	changes := make(chan bool, 4)
	sw.OnLinkState(func(_ context.Context, port saiagent.PortID, up bool) {
		if port == 1 {
			changes <- up
		}
	})
	runSwitch(t, sw)

	routes := api.Len(sai.ObjectTypeRouteEntry)
	hw, ok := sw.Indices().PortSaiID(1)
	require.True(t, ok)
	sw.LinkStateChanged(hw, false)
	select {
	case up := <-changes:
		assert.False(t, up)
	case <-time.After(5 * time.Second):
		t.Fatal("link down not applied")
	}
	assert.Equal(t, 1, api.Len(sai.ObjectTypeNextHopGroupMember))
	assert.Equal(t, routes, api.Len(sai.ObjectTypeRouteEntry), "routes are untouched")
	assert.Equal(t, 1, api.Len(sai.ObjectTypeNextHopGroup))

	sw.LinkStateChanged(hw, true)
	select {
	case up := <-changes:
		assert.True(t, up)
	case <-time.After(5 * time.Second):
		t.Fatal("link up not applied")
	}
	assert.Equal(t, 2, api.Len(sai.ObjectTypeNextHopGroupMember))
	assert.Equal(t, uint64(2), sw.EventStats().LinkEvents)
}

func TestPacketReceived(t *testing.T) {
	ctx := context.Background()
	sw := newSwitch(t, fake.New(), newStateStore(t), hwswitch.Config{})
	_, err := sw.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, sw.StateChanged(ctx, testState()))

	packets := make(chan hwswitch.Packet, 1)
	sw.OnPacket(func(_ context.Context, p hwswitch.Packet) { packets <- p })
	runSwitch(t, sw)

	hw, ok := sw.Indices().PortSaiID(2)
	require.True(t, ok)
	frame := []byte{0xde, 0xad, 0xbe, 0xef}
	sw.PacketReceived(hw, frame)
	frame[0] = 0
	select {
	case p := <-packets:
		assert.Equal(t, saiagent.PortID(2), p.Port)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, p.Frame, "the frame is copied")
	case <-time.After(5 * time.Second):
		t.Fatal("packet not delivered")
	}

	sw.PacketReceived(sai.ObjectID(0xbad), frame)
	stats := sw.EventStats()
	assert.Equal(t, uint64(2), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.PacketsUnknown)
}

func TestPacketQueueOverflowDrops(t *testing.T) {
	ctx := context.Background()
	sw := newSwitch(t, fake.New(), newStateStore(t), hwswitch.Config{PacketQueueDepth: 1})
	_, err := sw.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, sw.StateChanged(ctx, testState()))

	hw, ok := sw.Indices().PortSaiID(1)
	require.True(t, ok)
	// No workers run, so the queue fills.
	sw.PacketReceived(hw, nil)
	sw.PacketReceived(hw, nil)
	assert.Equal(t, uint64(1), sw.EventStats().PacketsDropped)
}

func TestUpdateStats(t *testing.T) {
	ctx := context.Background()
	api := fake.New()
	sw := newSwitch(t, api, newStateStore(t), hwswitch.Config{})
	_, err := sw.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, sw.StateChanged(ctx, testState()))

	hw1, _ := sw.Indices().PortSaiID(1)
	hw2, _ := sw.Indices().PortSaiID(2)
	api.AddStats(sai.ObjectTypePort, hw1, sai.PortStatIfInOctets, 1500)
	api.AddStats(sai.ObjectTypePort, hw2, sai.PortStatIfInOctets, 64)
	api.FailNext("stats", sai.ObjectTypePort, sai.StatusFailure, 1)

	require.NoError(t, sw.UpdateStats(ctx), "per port failures are skipped")
	all := sw.AllPortStats()
	require.Len(t, all, 2)
	assert.Equal(t, uint64(64), all[2][sai.PortStatIfInOctets])

	require.NoError(t, sw.UpdateStats(ctx))
	got, err := sw.PortStats(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), got[sai.PortStatIfInOctets])

	_, err = sw.PortStats(9)
	assert.ErrorIs(t, err, saiagent.ErrNotFound)
}

func TestRunCollectsStats(t *testing.T) {
	ctx := context.Background()
	api := fake.New()
	sw := newSwitch(t, api, newStateStore(t), hwswitch.Config{StatsInterval: time.Millisecond})
	_, err := sw.Init(ctx)
	require.NoError(t, err)
	require.NoError(t, sw.StateChanged(ctx, testState()))
	hw, _ := sw.Indices().PortSaiID(1)
	api.AddStats(sai.ObjectTypePort, hw, sai.PortStatIfOutOctets, 99)

	runSwitch(t, sw)
	require.Eventually(t, func() bool {
		got, err := sw.PortStats(1)
		return err == nil && got[sai.PortStatIfOutOctets] == 99
	}, 5*time.Second, 5*time.Millisecond)
}
