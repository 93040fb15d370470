package compute

import (
	"cmp"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	saiagent "github.com/frobware/go-saiagent"
)

// CanonicalNextHops orders next hops by interface and address and
// merges duplicates by adding their weights. A zero weight counts as
// one.
// Pure function.
func CanonicalNextHops(nhs []saiagent.NextHop) []saiagent.NextHop {
	merged := make(map[saiagent.NeighborKey]uint32, len(nhs))
	for _, nh := range nhs {
		w := nh.Weight
		if w == 0 {
			w = 1
		}
		merged[nh.Neighbor()] += w
	}
	out := make([]saiagent.NextHop, 0, len(merged))
	for k, w := range merged {
		out = append(out, saiagent.NextHop{Interface: k.Interface, IP: k.IP, Weight: w})
	}
	slices.SortFunc(out, func(a, b saiagent.NextHop) int {
		return CompareNeighborKeys(a.Neighbor(), b.Neighbor())
	})
	return out
}

// NextHopSetKey returns the identity of a next hop set: equal for any
// two lists that CanonicalNextHops maps to the same set.
// Pure function.
func NextHopSetKey(nhs []saiagent.NextHop) string {
	var b strings.Builder
	for i, nh := range CanonicalNextHops(nhs) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(nh.IP.String())
		b.WriteByte('@')
		b.WriteString(strconv.FormatUint(uint64(nh.Interface), 10))
		b.WriteByte('*')
		b.WriteString(strconv.FormatUint(uint64(nh.Weight), 10))
	}
	return b.String()
}

// TotalWeight sums the weights of canonical next hops.
// Pure function.
func TotalWeight(nhs []saiagent.NextHop) uint64 {
	var total uint64
	for _, nh := range CanonicalNextHops(nhs) {
		total += uint64(nh.Weight)
	}
	return total
}

// ValidRoute reports whether a route should be programmed. Host routes
// for a connected interface's own addresses are owned by the interface
// and skipped.
// Pure function.
func ValidRoute(r saiagent.Route, interfaces map[saiagent.InterfaceID]saiagent.Interface) bool {
	if !r.Connected || !isHostPrefix(r.Prefix) || len(r.NextHops) != 1 {
		return true
	}
	intf, ok := interfaces[r.NextHops[0].Interface]
	if !ok {
		return true
	}
	for _, addr := range intf.Addresses {
		if addr.Addr() == r.Prefix.Addr() {
			return false
		}
	}
	return true
}

func isHostPrefix(p netip.Prefix) bool {
	return p.Bits() == p.Addr().BitLen()
}

// InterfaceHostRoutes returns the host prefixes of an interface's
// addresses, ordered and without duplicates.
// Pure function.
func InterfaceHostRoutes(intf saiagent.Interface) []netip.Prefix {
	var out []netip.Prefix
	for _, addr := range intf.Addresses {
		a := addr.Addr()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	slices.SortFunc(out, func(a, b netip.Prefix) int {
		if c := a.Addr().Compare(b.Addr()); c != 0 {
			return c
		}
		return cmp.Compare(a.Bits(), b.Bits())
	})
	return slices.Compact(out)
}
