package compute

import (
	"slices"

	saiagent "github.com/frobware/go-saiagent"
)

// VCO is the serdes clock a port's speed and FEC select.
type VCO uint8

const (
	VCOUnknown VCO = iota
	VCO20G
	VCO25G
	VCO26G
)

// PortVCO returns the VCO a port configuration requires.
// Pure function.
func PortVCO(speedMbps uint32, fec saiagent.FEC) VCO {
	switch speedMbps {
	case 10000, 40000:
		return VCO20G
	case 25000, 50000, 100000:
		if fec == saiagent.FECRS544 {
			return VCO26G
		}
		return VCO25G
	case 200000, 400000:
		return VCO26G
	}
	return VCOUnknown
}

// GroupsToRecreate returns, in ascending order, the port groups whose
// VCO changes under the given port changes. Ports of such a group
// cannot be updated in place on hardware that cannot retune a running
// core and must be recreated together.
// Pure function.
func GroupsToRecreate(changes []Change[saiagent.Port]) []uint32 {
	var groups []uint32
	for _, c := range changes {
		if c.Old.Group != c.New.Group {
			continue
		}
		if PortVCO(c.Old.SpeedMbps, c.Old.FEC) != PortVCO(c.New.SpeedMbps, c.New.FEC) {
			groups = append(groups, c.New.Group)
		}
	}
	slices.Sort(groups)
	return slices.Compact(groups)
}
