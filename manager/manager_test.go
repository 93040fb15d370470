package manager_test

import (
	"context"
	"net/netip"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/manager"
	"github.com/frobware/go-saiagent/sai"
)

func routeKey(prefix string) saiagent.RouteKey {
	return saiagent.RouteKey{Prefix: netip.MustParsePrefix(prefix)}
}

func TestGroupMembersFollowNeighborResolution(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := routedState()
	r := ecmpRoute("192.168.0.0/16", nhA, nhB, nhC, nhD)
	s.Routes[r.Key()] = r
	f.MustApply(s)

	group, ok := f.Managers.NextHopGroups.GetNextHopGroupHandle(r.NextHops)
	require.True(t, ok, "route must reference a group even with no resolved next hop")
	id := group.ID()
	assert.Equal(t, 0, group.MemberCount())
	assert.Equal(t, 0, f.Members())

	s = clone(s)
	resolve(s, nhA)
	resolve(s, nhB)
	f.MustApply(s)
	assert.Equal(t, 2, group.MemberCount())
	assert.True(t, group.HasMember(nhA.Neighbor()))
	assert.False(t, group.HasMember(nhC.Neighbor()))

	s = clone(s)
	resolve(s, nhC)
	resolve(s, nhD)
	f.MustApply(s)
	assert.Equal(t, 4, group.MemberCount())
	assert.Equal(t, 4, f.Members())

	s = clone(s)
	unresolve(s, nhB)
	f.MustApply(s)
	assert.Equal(t, 3, group.MemberCount())
	assert.False(t, group.HasMember(nhB.Neighbor()))

	route, err := f.Managers.Routes.GetRouteHandle(r.Key())
	require.NoError(t, err)
	assert.Equal(t, id, group.ID(), "resolution changes must not recreate the group")
	assert.Equal(t, id, route.Attributes().NextHop)
	assert.Equal(t, 1, f.Groups())
}

func TestRoutesShareNextHopGroup(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := routedState()
	resolve(s, nhA)
	resolve(s, nhB)
	r1 := ecmpRoute("192.168.0.0/16", nhA, nhB)
	r2 := ecmpRoute("172.16.0.0/12", nhB, nhA)
	s.Routes[r1.Key()] = r1
	s.Routes[r2.Key()] = r2
	f.MustApply(s)

	assert.Equal(t, 1, f.Groups(), "next hop order must not matter")
	assert.Equal(t, 2, f.Members())
	assert.Equal(t, 2, f.Managers.NextHopGroups.ReferenceCount(r1.NextHops))
	h1, err := f.Managers.Routes.GetRouteHandle(r1.Key())
	require.NoError(t, err)
	h2, err := f.Managers.Routes.GetRouteHandle(r2.Key())
	require.NoError(t, err)
	assert.Same(t, h1.NextHopGroup(), h2.NextHopGroup())

	s = clone(s)
	delete(s.Routes, r1.Key())
	f.MustApply(s)
	assert.Equal(t, 1, f.Groups())
	assert.Equal(t, 1, f.Managers.NextHopGroups.ReferenceCount(r2.NextHops))

	s = clone(s)
	delete(s.Routes, r2.Key())
	f.MustApply(s)
	assert.Equal(t, 0, f.Groups())
	assert.Equal(t, 0, f.Members())
	assert.Equal(t, 0, f.Managers.NextHopGroups.Len())
}

func TestLinkDownShrinksGroupWithoutTouchingRoutes(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, manager.Platform{})
	s := routedState()
	for _, nh := range []saiagent.NextHop{nhA, nhB, nhC, nhD} {
		resolve(s, nh)
	}
	r := ecmpRoute("192.168.0.0/16", nhA, nhB, nhC, nhD)
	s.Routes[r.Key()] = r
	f.MustApply(s)

	route, err := f.Managers.Routes.GetRouteHandle(r.Key())
	require.NoError(t, err)
	before := route.Attributes().NextHop
	require.Equal(t, 4, f.Members())

	f.API.ResetOperations()
	require.NoError(t, f.Managers.Ports.SetOperState(3, false))
	require.NoError(t, f.Managers.Neighbors.HandleLinkDown(ctx, 3))

	assert.Equal(t, 3, f.Members())
	assert.Equal(t, 0, f.API.Count("set", sai.ObjectTypeRouteEntry), "link down must not touch routes")
	assert.Equal(t, before, route.Attributes().NextHop)
	nbr, err := f.Managers.Neighbors.GetNeighborHandle(nhC.Neighbor())
	require.NoError(t, err)
	assert.True(t, nbr.LinkDown())
	assert.False(t, nbr.Programmed())

	// The routing protocol withdraws C.
	s = clone(s)
	shrunk := ecmpRoute("192.168.0.0/16", nhA, nhB, nhD)
	s.Routes[r.Key()] = shrunk
	f.MustApply(s)

	assert.Equal(t, 1, f.Groups(), "the four member group must go once unused")
	group, ok := f.Managers.NextHopGroups.GetNextHopGroupHandle(shrunk.NextHops)
	require.True(t, ok)
	assert.Equal(t, 3, group.MemberCount())
	assert.Equal(t, group.ID(), route.Attributes().NextHop)

	require.NoError(t, f.Managers.Ports.SetOperState(3, true))
	require.NoError(t, f.Managers.Neighbors.HandleLinkUp(ctx, 3))
	assert.True(t, nbr.Programmed())
	assert.Equal(t, 3, f.Members(), "no group includes C any more")
}

func TestDuplicateAddIsRejectedWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, manager.Platform{})
	s := routedState()
	r := saiagent.Route{Prefix: netip.MustParsePrefix("10.9.0.0/16"), Action: saiagent.RouteActionDrop}
	s.Routes[r.Key()] = r
	f.MustApply(s)
	f.API.ResetOperations()

	tests := []struct {
		name string
		add  func() error
	}{
		{"port", func() error { return f.Managers.Ports.AddPort(ctx, s.Ports[1]) }},
		{"port lanes", func() error {
			p := port(9, 9, 4, 5)
			return f.Managers.Ports.AddPort(ctx, p)
		}},
		{"interface", func() error { return f.Managers.RouterInterfaces.AddInterface(ctx, s.Interfaces[1]) }},
		{"neighbor", func() error { return f.Managers.Neighbors.AddNeighbor(ctx, s.Neighbors[nhA.Neighbor()]) }},
		{"route", func() error { return f.Managers.Routes.AddRoute(ctx, r) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.add()
			require.Error(t, err)
			assert.ErrorIs(t, err, saiagent.ErrAlreadyExists)
			assert.Empty(t, f.API.Operations())
		})
	}
}

func TestSchedulersAreSharedBySettings(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	wrr := &saiagent.SchedulerSettings{Type: saiagent.SchedulerWRR, Weight: 4, MaxRateKbps: 1000000}
	strict := &saiagent.SchedulerSettings{Type: saiagent.SchedulerStrict}

	s := saiagent.NewSwitchState()
	for i := saiagent.PortID(1); i <= 3; i++ {
		p := port(i, uint32(i), uint32(i)*4)
		p.Scheduler = wrr
		s.Ports[i] = p
	}
	f.MustApply(s)
	assert.Equal(t, 1, f.API.Len(sai.ObjectTypeScheduler))
	assert.Equal(t, 1, f.Managers.Schedulers.Len())

	p1, err := f.Managers.Ports.GetPortHandle(1)
	require.NoError(t, err)
	p3, err := f.Managers.Ports.GetPortHandle(3)
	require.NoError(t, err)
	assert.Equal(t, p1.SchedulerID(), p3.SchedulerID())
	v, ok := f.API.Attribute(sai.ObjectTypePort, p1.ID(), sai.PortAttrQosSchedulerProfileID)
	require.True(t, ok)
	assert.Equal(t, p1.SchedulerID(), v)

	s = clone(s)
	p := s.Ports[3]
	p.Scheduler = strict
	s.Ports[3] = p
	f.MustApply(s)
	assert.Equal(t, 2, f.API.Len(sai.ObjectTypeScheduler))
	assert.NotEqual(t, p1.SchedulerID(), p3.SchedulerID())

	s = clone(s)
	delete(s.Ports, 1)
	delete(s.Ports, 2)
	f.MustApply(s)
	assert.Equal(t, 1, f.API.Len(sai.ObjectTypeScheduler), "last port using a scheduler removes it")

	s = clone(s)
	p = s.Ports[3]
	p.Scheduler = nil
	s.Ports[3] = p
	f.MustApply(s)
	assert.Equal(t, 0, f.API.Len(sai.ObjectTypeScheduler))
	assert.Equal(t, sai.NullObjectID, p3.SchedulerID())
}

func TestMirrorAttachAndRemove(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := saiagent.NewSwitchState()
	for i := saiagent.PortID(1); i <= 2; i++ {
		s.Ports[i] = port(i, uint32(i), uint32(i)*4)
	}
	p := s.Ports[1]
	p.IngressMirror = "span"
	s.Ports[1] = p
	s.Mirrors["span"] = saiagent.Mirror{Name: "span", Type: saiagent.MirrorLocal, Port: 2}
	f.MustApply(s)

	session, err := f.Managers.Mirrors.GetMirrorHandle("span")
	require.NoError(t, err)
	local := session.ID()
	p1, err := f.Managers.Ports.GetPortHandle(1)
	require.NoError(t, err)
	assert.Equal(t, sai.ObjectList{local}, p1.Attributes().IngressMirrors)
	assert.Empty(t, p1.Attributes().EgressMirrors)

	// Switching to ERSPAN changes the session type, which is create
	// only, so the session is replaced and the port follows it.
	s = clone(s)
	s.Mirrors["span"] = saiagent.Mirror{
		Name:   "span",
		Type:   saiagent.MirrorERSPAN,
		Port:   2,
		SrcIP:  netip.MustParseAddr("192.0.2.1"),
		DstIP:  netip.MustParseAddr("192.0.2.99"),
		SrcMAC: mac("02:00:00:00:00:01"),
		DstMAC: mac("02:00:00:00:00:99"),
		TTL:    64,
	}
	f.MustApply(s)
	erspan, err := f.Managers.Mirrors.GetMirrorHandle("span")
	require.NoError(t, err)
	assert.NotEqual(t, local, erspan.ID())
	assert.False(t, f.API.Exists(sai.ObjectTypeMirrorSession, local))
	assert.Equal(t, sai.ObjectList{erspan.ID()}, p1.Attributes().IngressMirrors)
	assert.Equal(t, 1, f.API.Len(sai.ObjectTypeMirrorSession))

	s = clone(s)
	delete(s.Mirrors, "span")
	p = s.Ports[1]
	p.IngressMirror = ""
	s.Ports[1] = p
	f.MustApply(s)
	assert.Equal(t, 0, f.API.Len(sai.ObjectTypeMirrorSession))
	assert.Empty(t, p1.Attributes().IngressMirrors)
}

func groupedState() saiagent.SwitchState {
	s := saiagent.NewSwitchState()
	s.Ports[1] = port(1, 7, 0, 1)
	s.Ports[2] = port(2, 7, 2, 3)
	s.Ports[3] = port(3, 8, 4, 5)
	s.Vlans[10] = saiagent.Vlan{ID: 10, Members: map[saiagent.PortID]bool{1: false, 2: true, 3: false}}
	return s
}

func TestPortGroupRecreate(t *testing.T) {
	f := newTestFixture(t, manager.Platform{PortGroupRecreate: true})
	s := groupedState()
	f.MustApply(s)

	p2, err := f.Managers.Ports.GetPortHandle(2)
	require.NoError(t, err)
	p3, err := f.Managers.Ports.GetPortHandle(3)
	require.NoError(t, err)
	oldP2, oldP3 := p2.ID(), p3.ID()

	s = clone(s)
	p := s.Ports[1]
	p.SpeedMbps = 40000
	s.Ports[1] = p
	f.API.ResetOperations()
	f.MustApply(s)

	assert.Equal(t, 2, f.API.Count("remove", sai.ObjectTypePort), "both ports of the group")
	assert.Equal(t, 2, f.API.Count("create", sai.ObjectTypePort))
	p1, err := f.Managers.Ports.GetPortHandle(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(40000), p1.Attributes().Speed)
	p2, err = f.Managers.Ports.GetPortHandle(2)
	require.NoError(t, err)
	assert.NotEqual(t, oldP2, p2.ID())
	assert.Equal(t, oldP3, p3.ID(), "other groups are untouched")

	vlan, err := f.Managers.Vlans.GetVlanHandle(10)
	require.NoError(t, err)
	assert.Equal(t, 3, vlan.MemberCount(), "memberships are restored")
	tagged := f.API.Find(sai.ObjectTypeVlanMember, sai.VlanMemberAttrBridgePortID, p2.BridgePortID())
	require.Len(t, tagged, 1)
	mode, _ := f.API.Attribute(sai.ObjectTypeVlanMember, tagged[0], sai.VlanMemberAttrTaggingMode)
	assert.Equal(t, sai.VlanTaggingModeTagged, mode)
}

func TestPortGroupRecreateRollsBack(t *testing.T) {
	f := newTestFixture(t, manager.Platform{PortGroupRecreate: true})
	s := groupedState()
	f.MustApply(s)

	next := clone(s)
	p := next.Ports[1]
	p.SpeedMbps = 40000
	next.Ports[1] = p
	f.API.FailNext("create", sai.ObjectTypePort, sai.StatusInsufficientResources, 1)

	err := f.Apply(next)
	require.Error(t, err)
	assert.True(t, sai.IsStatus(err, sai.StatusInsufficientResources), "got %v", err)

	for _, id := range []saiagent.PortID{1, 2} {
		h, err := f.Managers.Ports.GetPortHandle(id)
		require.NoError(t, err, "port %d restored", id)
		assert.Equal(t, uint32(100000), h.Attributes().Speed)
		assert.True(t, f.API.Exists(sai.ObjectTypePort, h.ID()))
	}
	assert.Equal(t, 3, f.API.Len(sai.ObjectTypePort))
	vlan, err := f.Managers.Vlans.GetVlanHandle(10)
	require.NoError(t, err)
	assert.Equal(t, 3, vlan.MemberCount())
	assert.Equal(t, 3, f.API.Len(sai.ObjectTypeVlanMember))
}

func TestPortGroupRecreateRefusesPortsInUse(t *testing.T) {
	f := newTestFixture(t, manager.Platform{PortGroupRecreate: true})
	s := routedState()
	f.MustApply(s)

	s = clone(s)
	p := s.Ports[1]
	p.FEC = saiagent.FECRS544
	s.Ports[1] = p
	f.API.ResetOperations()

	err := f.Apply(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, saiagent.ErrUnsupported)
	assert.Equal(t, 0, f.API.Count("remove", sai.ObjectTypePort))
}

func TestChangePortInPlace(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := groupedState()
	f.MustApply(s)
	p1, err := f.Managers.Ports.GetPortHandle(1)
	require.NoError(t, err)
	id := p1.ID()

	s = clone(s)
	p := s.Ports[1]
	p.SpeedMbps = 40000
	p.MTU = 1500
	p.AdminUp = false
	s.Ports[1] = p
	f.API.ResetOperations()
	f.MustApply(s)

	assert.Equal(t, 0, f.API.Count("remove", sai.ObjectTypePort))
	assert.Equal(t, 3, f.API.Count("set", sai.ObjectTypePort))
	assert.Equal(t, id, p1.ID())
	assert.Equal(t, uint32(1500), p1.Attributes().Mtu)
	assert.False(t, p1.Attributes().AdminState)
}

func TestChangePortLanesIsUnsupported(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := groupedState()
	f.MustApply(s)

	s = clone(s)
	p := s.Ports[3]
	p.Lanes = []uint32{4, 5, 6, 7}
	s.Ports[3] = p
	err := f.Apply(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, saiagent.ErrUnsupported)
	var unsupported saiagent.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.NotEmpty(t, unsupported.Reason)
}

func TestInterfaceToMeRoutes(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := routedState()
	f.MustApply(s)
	assert.Equal(t, 4, f.API.Len(sai.ObjectTypeRouteEntry), "one host route per interface address")

	connected := saiagent.Route{
		Prefix:    netip.MustParsePrefix("10.0.1.0/24"),
		Action:    saiagent.RouteActionNextHops,
		NextHops:  []saiagent.NextHop{{Interface: 1}},
		Connected: true,
	}
	host := saiagent.Route{
		Prefix:    netip.MustParsePrefix("10.0.1.1/32"),
		Action:    saiagent.RouteActionNextHops,
		NextHops:  []saiagent.NextHop{{Interface: 1}},
		Connected: true,
	}
	s = clone(s)
	s.Routes[connected.Key()] = connected
	s.Routes[host.Key()] = host
	f.MustApply(s)

	assert.Equal(t, 5, f.API.Len(sai.ObjectTypeRouteEntry))
	rif, err := f.Managers.RouterInterfaces.GetRouterInterfaceHandle(1)
	require.NoError(t, err)
	h, err := f.Managers.Routes.GetRouteHandle(connected.Key())
	require.NoError(t, err)
	assert.Equal(t, rif.ID(), h.Attributes().NextHop)
	assert.Equal(t, 0, f.Groups(), "connected routes forward to the interface")

	skipped, err := f.Managers.Routes.GetRouteHandle(host.Key())
	require.NoError(t, err)
	assert.True(t, skipped.Skipped())
	assert.Nil(t, skipped.AdapterKey())

	// Adding an address adds its host route; dropping one removes it.
	s = clone(s)
	intf := s.Interfaces[2]
	intf.Addresses = []netip.Prefix{netip.MustParsePrefix("10.0.2.1/24"), netip.MustParsePrefix("2001:db8::1/64")}
	s.Interfaces[2] = intf
	f.MustApply(s)
	assert.Equal(t, 6, f.API.Len(sai.ObjectTypeRouteEntry))

	s = clone(s)
	intf.Addresses = []netip.Prefix{netip.MustParsePrefix("2001:db8::1/64")}
	s.Interfaces[2] = intf
	f.MustApply(s)
	assert.Equal(t, 5, f.API.Len(sai.ObjectTypeRouteEntry))
}

func TestRouteActions(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := routedState()
	resolve(s, nhA)
	drop := saiagent.Route{Prefix: netip.MustParsePrefix("10.66.0.0/16"), Action: saiagent.RouteActionDrop, ClassID: 7}
	trap := saiagent.Route{Prefix: netip.MustParsePrefix("10.77.0.0/16"), Action: saiagent.RouteActionToCPU}
	s.Routes[drop.Key()] = drop
	s.Routes[trap.Key()] = trap
	f.MustApply(s)

	h, err := f.Managers.Routes.GetRouteHandle(drop.Key())
	require.NoError(t, err)
	assert.Equal(t, sai.PacketActionDrop, h.Attributes().PacketAction)
	assert.Equal(t, uint32(7), h.Attributes().Metadata)
	h, err = f.Managers.Routes.GetRouteHandle(trap.Key())
	require.NoError(t, err)
	assert.Equal(t, sai.PacketActionForward, h.Attributes().PacketAction)
	assert.Equal(t, f.Managers.Switch.CPUPort(), h.Attributes().NextHop)

	s = clone(s)
	ecmp := ecmpRoute("10.66.0.0/16", nhA, nhB)
	s.Routes[drop.Key()] = ecmp
	f.API.ResetOperations()
	f.MustApply(s)
	h, err = f.Managers.Routes.GetRouteHandle(drop.Key())
	require.NoError(t, err)
	require.NotNil(t, h.NextHopGroup())
	assert.Equal(t, h.NextHopGroup().ID(), h.Attributes().NextHop)
	assert.Equal(t, 0, f.API.Count("remove", sai.ObjectTypeRouteEntry), "action changes are made in place")
	assert.Equal(t, 1, h.NextHopGroup().MemberCount())

	s = clone(s)
	s.Routes[drop.Key()] = drop
	f.MustApply(s)
	assert.Nil(t, h.NextHopGroup())
	assert.Equal(t, 0, f.Groups())
}

func TestRouteToUnknownRouterFails(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := saiagent.NewSwitchState()
	r := saiagent.Route{Router: 3, Prefix: netip.MustParsePrefix("10.0.0.0/8"), Action: saiagent.RouteActionDrop}
	s.Routes[r.Key()] = r
	err := f.Apply(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, saiagent.ErrNotFound)
}

func TestFailedMemberAddIsResynced(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := routedState()
	r := ecmpRoute("192.168.0.0/16", nhA, nhB)
	s.Routes[r.Key()] = r
	f.MustApply(s)

	s = clone(s)
	resolve(s, nhA)
	f.API.FailNext("create", sai.ObjectTypeNextHopGroupMember, sai.StatusTableFull, 1)
	f.MustApply(s)
	assert.Equal(t, 0, f.Members(), "member add failure leaves the group live")
	assert.True(t, f.Managers.NextHopGroups.NeedsResync())

	report, err := f.Managers.Doctor(context.Background())
	require.NoError(t, err)
	assert.True(t, report.HasWarnings())
	assert.False(t, report.HasErrors())

	s = clone(s)
	resolve(s, nhB)
	f.MustApply(s)
	assert.Equal(t, 2, f.Members())
	assert.False(t, f.Managers.NextHopGroups.NeedsResync())
}

func TestAddFailureIsSdkError(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := saiagent.NewSwitchState()
	r := saiagent.Route{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Action: saiagent.RouteActionDrop}
	s.Routes[r.Key()] = r
	f.API.FailNext("create", sai.ObjectTypeRouteEntry, sai.StatusTableFull, 1)

	err := f.Apply(s)
	require.Error(t, err)
	var sdkErr *sai.SdkError
	require.ErrorAs(t, err, &sdkErr)
	assert.Equal(t, sai.StatusTableFull, sdkErr.Status)
	_, err = f.Managers.Routes.GetRouteHandle(r.Key())
	assert.ErrorIs(t, err, saiagent.ErrNotFound, "a failed add registers no handle")
}

func TestFixedWidthEcmp(t *testing.T) {
	f := newTestFixture(t, manager.Platform{MaxVariableWidthEcmp: 4})
	s := routedState()
	heavy := nhA
	heavy.Weight = 3
	other := nhB
	other.Weight = 2
	wide := ecmpRoute("192.168.0.0/16", heavy, other)
	narrow := ecmpRoute("172.16.0.0/12", nhA, nhB)
	s.Routes[wide.Key()] = wide
	s.Routes[narrow.Key()] = narrow
	f.MustApply(s)

	g, ok := f.Managers.NextHopGroups.GetNextHopGroupHandle(wide.NextHops)
	require.True(t, ok)
	assert.True(t, g.FixedWidth())
	v, _ := f.API.Attribute(sai.ObjectTypeNextHopGroup, g.ID(), sai.NextHopGroupAttrType)
	assert.Equal(t, sai.NextHopGroupTypeFixedWidthECMP, v)

	g, ok = f.Managers.NextHopGroups.GetNextHopGroupHandle(narrow.NextHops)
	require.True(t, ok)
	assert.False(t, g.FixedWidth())
}

func fullState() saiagent.SwitchState {
	s := routedState()
	for _, nh := range []saiagent.NextHop{nhA, nhB, nhC, nhD} {
		resolve(s, nh)
	}
	p := s.Ports[4]
	p.Scheduler = &saiagent.SchedulerSettings{Type: saiagent.SchedulerWRR, Weight: 2}
	s.Ports[4] = p
	s.Ports[5] = port(5, 5, 40, 41)
	s.Ports[6] = port(6, 6, 44, 45)
	s.Vlans[20] = saiagent.Vlan{ID: 20, Members: map[saiagent.PortID]bool{5: false, 6: true}}
	s.Interfaces[20] = saiagent.Interface{
		ID:        20,
		Vlan:      20,
		MAC:       mac("02:00:00:00:00:01"),
		MTU:       9000,
		Addresses: []netip.Prefix{netip.MustParsePrefix("10.20.0.1/24")},
	}
	for _, r := range []saiagent.Route{
		ecmpRoute("192.168.0.0/16", nhA, nhB, nhC, nhD),
		ecmpRoute("172.16.0.0/12", nhA, nhB),
		{Prefix: netip.MustParsePrefix("10.66.0.0/16"), Action: saiagent.RouteActionDrop},
	} {
		s.Routes[r.Key()] = r
	}
	return s
}

func TestWarmBootReclaimsEverything(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, manager.Platform{})
	state := fullState()
	f.MustApply(state)
	objects := map[sai.ObjectType]int{}
	for _, typ := range f.Store.ObjectTypes() {
		objects[typ] = f.API.Len(typ)
	}

	doc, err := f.Store.Document("test")
	require.NoError(t, err)
	f.Store.ExitForWarmBoot()

	f.attach(manager.Platform{}, doc)
	f.API.ResetOperations()
	f.MustApply(state)
	require.NoError(t, f.Store.CheckUnexpectedUnclaimedWarmbootHandles(ctx))

	for _, op := range f.API.Operations() {
		assert.NotEqual(t, "create", op.Op, "unexpected %s", op)
		assert.NotEqual(t, "remove", op.Op, "unexpected %s", op)
	}
	for _, typ := range f.Store.ObjectTypes() {
		assert.Equal(t, objects[typ], f.API.Len(typ), "object type %s", typ)
	}
	report, err := f.Managers.Doctor(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
}

func TestWarmBootRemovesUnclaimed(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, manager.Platform{})
	state := fullState()
	f.MustApply(state)

	doc, err := f.Store.Document("test")
	require.NoError(t, err)
	f.Store.ExitForWarmBoot()

	smaller := clone(state)
	delete(smaller.Routes, routeKey("172.16.0.0/12"))
	delete(smaller.Routes, routeKey("10.66.0.0/16"))

	f.attach(manager.Platform{}, doc)
	f.MustApply(smaller)
	unclaimed := f.Store.UnclaimedWarmbootHandles()
	assert.Len(t, unclaimed[sai.ObjectTypeRouteEntry], 2)
	assert.Len(t, unclaimed[sai.ObjectTypeNextHopGroup], 1)
	assert.Len(t, unclaimed[sai.ObjectTypeNextHopGroupMember], 2)

	report, err := f.Managers.Doctor(ctx)
	require.NoError(t, err)
	assert.True(t, report.HasWarnings())

	f.API.ResetOperations()
	require.NoError(t, f.Store.CheckUnexpectedUnclaimedWarmbootHandles(ctx))
	assert.Equal(t, 2, f.API.Count("remove", sai.ObjectTypeRouteEntry))
	assert.Equal(t, 1, f.API.Count("remove", sai.ObjectTypeNextHopGroup))
	assert.Equal(t, 2, f.API.Count("remove", sai.ObjectTypeNextHopGroupMember))
	assert.Empty(t, f.Store.UnclaimedWarmbootHandles())
}

func TestDoctorFindsObjectRemovedBehindTheStore(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, manager.Platform{})
	s := saiagent.NewSwitchState()
	r := saiagent.Route{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Action: saiagent.RouteActionDrop}
	s.Routes[r.Key()] = r
	f.MustApply(s)

	report, err := f.Managers.Doctor(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)

	h, err := f.Managers.Routes.GetRouteHandle(r.Key())
	require.NoError(t, err)
	require.NoError(t, f.API.Remove(ctx, sai.ObjectTypeRouteEntry, h.AdapterKey()))

	report, err = f.Managers.Doctor(ctx)
	require.NoError(t, err)
	require.True(t, report.HasErrors())
	assert.Equal(t, "store-vs-hardware", report.Findings[0].Category)
}

func TestListManagedObjects(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	f.MustApply(fullState())

	byManager := map[string]int{}
	for _, obj := range f.Managers.ListManagedObjects() {
		byManager[obj.Manager]++
	}
	assert.Equal(t, 6, byManager["port"])
	assert.Equal(t, 1, byManager["vlan"])
	assert.Equal(t, 5, byManager["routerinterface"])
	assert.Equal(t, 4, byManager["neighbor"])
	assert.Equal(t, 2, byManager["nexthopgroup"])
	assert.Equal(t, 3, byManager["route"])
	assert.Equal(t, 1, byManager["scheduler"])
}

func TestRemoveEverything(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	f.MustApply(fullState())
	f.MustApply(saiagent.NewSwitchState())

	for _, typ := range f.Store.ObjectTypes() {
		assert.Zero(t, f.API.Len(typ), "object type %s", typ)
	}
	assert.Zero(t, f.Indices.Len())
}

func TestAppliedStateMirrorsHandles(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	assert.Empty(t, f.Managers.AppliedState().Ports)

	s := routedState()
	resolve(s, nhA)
	r := ecmpRoute("192.168.0.0/16", nhA, nhB)
	s.Routes[r.Key()] = r
	f.MustApply(s)

	applied := f.Managers.AppliedState()
	assert.Equal(t, s.Ports, applied.Ports)
	assert.Equal(t, s.Interfaces, applied.Interfaces)
	assert.Equal(t, s.Neighbors, applied.Neighbors)
	assert.Equal(t, s.Routes, applied.Routes, "interface to-me routes are not part of the applied state")
}

func TestRouteLeavesRemovedInterfaceInSameDelta(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := routedState()
	connected := saiagent.Route{
		Prefix:    netip.MustParsePrefix("10.0.1.0/24"),
		Action:    saiagent.RouteActionNextHops,
		NextHops:  []saiagent.NextHop{{Interface: 1}},
		Connected: true,
	}
	moved := saiagent.Route{
		Prefix:    netip.MustParsePrefix("10.0.2.0/24"),
		Action:    saiagent.RouteActionNextHops,
		NextHops:  []saiagent.NextHop{{Interface: 2}},
		Connected: true,
	}
	s.Routes[connected.Key()] = connected
	s.Routes[moved.Key()] = moved
	f.MustApply(s)

	// Interfaces 1 and 2 go away in the same delta that stops their
	// routes using them. One route turns into a drop; the other moves
	// to an interface the delta adds.
	s = clone(s)
	delete(s.Interfaces, 1)
	delete(s.Interfaces, 2)
	delete(s.Neighbors, nhA.Neighbor())
	delete(s.Neighbors, nhB.Neighbor())
	s.Ports[5] = port(5, 5, 40, 41)
	s.Interfaces[5] = saiagent.Interface{
		ID:        5,
		Port:      5,
		MAC:       mac("02:00:00:00:00:01"),
		MTU:       9000,
		Addresses: []netip.Prefix{netip.MustParsePrefix("10.0.5.1/24")},
	}
	drop := connected
	drop.Action = saiagent.RouteActionDrop
	drop.NextHops = nil
	drop.Connected = false
	s.Routes[drop.Key()] = drop
	movedNew := moved
	movedNew.NextHops = []saiagent.NextHop{{Interface: 5}}
	s.Routes[moved.Key()] = movedNew
	f.MustApply(s)

	h, err := f.Managers.Routes.GetRouteHandle(drop.Key())
	require.NoError(t, err)
	assert.Equal(t, sai.PacketActionDrop, h.Attributes().PacketAction)
	rif, err := f.Managers.RouterInterfaces.GetRouterInterfaceHandle(5)
	require.NoError(t, err)
	h, err = f.Managers.Routes.GetRouteHandle(moved.Key())
	require.NoError(t, err)
	assert.Equal(t, rif.ID(), h.Attributes().NextHop)

	_, err = f.Managers.RouterInterfaces.GetRouterInterfaceHandle(1)
	assert.ErrorIs(t, err, saiagent.ErrNotFound)
	assert.Equal(t, 3, f.API.Len(sai.ObjectTypeRouterInterface))
	assert.Empty(t, f.Managers.PendingReleases())
}

func TestFailedMemberRemoveKeepsNextHopUntilResync(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t, manager.Platform{})
	s := routedState()
	resolve(s, nhA)
	resolve(s, nhB)
	r := ecmpRoute("192.168.0.0/16", nhA, nhB)
	s.Routes[r.Key()] = r
	f.MustApply(s)
	require.Equal(t, 2, f.Members())
	group, ok := f.Managers.NextHopGroups.GetNextHopGroupHandle(r.NextHops)
	require.True(t, ok)

	s = clone(s)
	unresolve(s, nhA)
	f.API.FailNext("remove", sai.ObjectTypeNextHopGroupMember, sai.StatusFailure, 1)
	f.MustApply(s)

	assert.True(t, f.Managers.NextHopGroups.NeedsResync())
	assert.True(t, group.HasMember(nhA.Neighbor()), "the member is still in hardware")
	assert.Equal(t, 2, f.Members())
	assert.Equal(t, 2, f.API.Len(sai.ObjectTypeNextHop), "the next hop waits for its member")
	assert.Len(t, f.Managers.PendingReleases(), 2)
	report, err := f.Managers.Doctor(ctx)
	require.NoError(t, err)
	assert.True(t, report.HasWarnings())

	f.MustApply(s)
	assert.False(t, f.Managers.NextHopGroups.NeedsResync())
	assert.False(t, group.HasMember(nhA.Neighbor()))
	assert.Equal(t, 1, f.Members())
	assert.Equal(t, 1, f.API.Len(sai.ObjectTypeNextHop))
	assert.Equal(t, 1, f.API.Len(sai.ObjectTypeNeighborEntry))
	assert.Empty(t, f.Managers.PendingReleases())
	report, err = f.Managers.Doctor(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
}

func TestFailedRemovalKeepsHandle(t *testing.T) {
	t.Run("route entry", func(t *testing.T) {
		f := newTestFixture(t, manager.Platform{})
		s := routedState()
		resolve(s, nhA)
		resolve(s, nhB)
		r := ecmpRoute("192.168.0.0/16", nhA, nhB)
		s.Routes[r.Key()] = r
		f.MustApply(s)

		next := clone(s)
		delete(next.Routes, r.Key())
		f.API.FailNext("remove", sai.ObjectTypeRouteEntry, sai.StatusFailure, 1)
		err := f.Apply(next)
		require.Error(t, err)
		assert.True(t, sai.IsStatus(err, sai.StatusFailure), "got %v", err)

		h, err := f.Managers.Routes.GetRouteHandle(r.Key())
		require.NoError(t, err, "handle survives")
		assert.True(t, f.API.Exists(sai.ObjectTypeRouteEntry, h.AdapterKey()))
		assert.Equal(t, 1, f.Managers.NextHopGroups.ReferenceCount(r.NextHops))
		assert.Equal(t, 1, f.Groups())

		f.MustApply(next)
		_, err = f.Managers.Routes.GetRouteHandle(r.Key())
		assert.ErrorIs(t, err, saiagent.ErrNotFound)
		assert.Equal(t, 0, f.Groups())
		assert.Equal(t, 0, f.Members())
		assert.Equal(t, 4, f.API.Len(sai.ObjectTypeRouteEntry), "only the host routes remain")
	})

	t.Run("router interface", func(t *testing.T) {
		f := newTestFixture(t, manager.Platform{})
		s := routedState()
		f.MustApply(s)
		rif, err := f.Managers.RouterInterfaces.GetRouterInterfaceHandle(1)
		require.NoError(t, err)
		id := rif.ID()

		next := clone(s)
		delete(next.Interfaces, 1)
		delete(next.Neighbors, nhA.Neighbor())
		f.API.FailNext("remove", sai.ObjectTypeRouterInterface, sai.StatusFailure, 1)
		require.Error(t, f.Apply(next))

		_, err = f.Managers.RouterInterfaces.GetRouterInterfaceHandle(1)
		require.NoError(t, err, "handle survives")
		assert.True(t, f.API.Exists(sai.ObjectTypeRouterInterface, id))
		assert.Equal(t, 3, f.API.Len(sai.ObjectTypeRouteEntry), "its host route is gone")

		f.MustApply(next)
		_, err = f.Managers.RouterInterfaces.GetRouterInterfaceHandle(1)
		assert.ErrorIs(t, err, saiagent.ErrNotFound)
		assert.False(t, f.API.Exists(sai.ObjectTypeRouterInterface, id))
	})

	t.Run("next hop group", func(t *testing.T) {
		f := newTestFixture(t, manager.Platform{})
		s := routedState()
		resolve(s, nhA)
		r := ecmpRoute("192.168.0.0/16", nhA, nhB)
		s.Routes[r.Key()] = r
		f.MustApply(s)

		next := clone(s)
		delete(next.Routes, r.Key())
		f.API.FailNext("remove", sai.ObjectTypeNextHopGroup, sai.StatusFailure, 1)
		f.MustApply(next)
		assert.Equal(t, 1, f.Groups(), "group removal failed")
		assert.Equal(t, 0, f.Members())
		assert.Equal(t, 1, f.Managers.NextHopGroups.Len())
		assert.Len(t, f.Managers.PendingReleases(), 1)

		f.MustApply(next)
		assert.Equal(t, 0, f.Groups())
		assert.Equal(t, 0, f.Managers.NextHopGroups.Len())
		assert.Empty(t, f.Managers.PendingReleases())
	})
}

func TestUserRouteCannotTakeHostRouteKey(t *testing.T) {
	f := newTestFixture(t, manager.Platform{})
	s := routedState()
	f.MustApply(s)
	f.API.ResetOperations()

	next := clone(s)
	clash := saiagent.Route{Prefix: netip.MustParsePrefix("10.0.1.1/32"), Action: saiagent.RouteActionDrop}
	next.Routes[clash.Key()] = clash
	err := f.Apply(next)
	require.Error(t, err)
	assert.ErrorIs(t, err, saiagent.ErrAlreadyExists)
	assert.Empty(t, f.API.Operations(), "the host route is untouched")

	// An address whose host route is already a user route is refused
	// as well.
	user := saiagent.Route{Prefix: netip.MustParsePrefix("10.0.9.1/32"), Action: saiagent.RouteActionDrop}
	s = clone(s)
	s.Routes[user.Key()] = user
	f.MustApply(s)

	next = clone(s)
	intf := next.Interfaces[2]
	intf.Addresses = append(slices.Clone(intf.Addresses), netip.MustParsePrefix("10.0.9.1/24"))
	next.Interfaces[2] = intf
	err = f.Apply(next)
	require.Error(t, err)
	assert.ErrorIs(t, err, saiagent.ErrAlreadyExists)
	h, err := f.Managers.Routes.GetRouteHandle(user.Key())
	require.NoError(t, err)
	assert.Equal(t, sai.PacketActionDrop, h.Attributes().PacketAction)
}

func TestPortGroupRecreateKeepsOperState(t *testing.T) {
	f := newTestFixture(t, manager.Platform{PortGroupRecreate: true})
	s := groupedState()
	f.MustApply(s)
	require.NoError(t, f.Managers.Ports.SetOperState(2, false))

	s = clone(s)
	p := s.Ports[1]
	p.SpeedMbps = 40000
	s.Ports[1] = p
	f.MustApply(s)

	p1, err := f.Managers.Ports.GetPortHandle(1)
	require.NoError(t, err)
	p2, err := f.Managers.Ports.GetPortHandle(2)
	require.NoError(t, err)
	assert.True(t, p1.OperUp())
	assert.False(t, p2.OperUp(), "link state survives recreation")
}
