package manager

import (
	"context"
	"fmt"

	"github.com/frobware/go-saiagent/sai"
)

// Severity grades a doctor finding.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityError
)

var severityNames = [...]string{"OK", "WARNING", "ERROR"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// Finding is one discrepancy. Category names the pair of views that
// disagree, e.g. "store-vs-hardware".
type Finding struct {
	Severity    Severity
	Category    string
	Description string
}

// DoctorReport lists every finding of one Doctor run.
type DoctorReport struct {
	Findings []Finding
}

func (r DoctorReport) has(sev Severity) bool {
	for _, f := range r.Findings {
		if f.Severity == sev {
			return true
		}
	}
	return false
}

// HasErrors reports whether any finding is an error.
func (r DoctorReport) HasErrors() bool { return r.has(SeverityError) }

// HasWarnings reports whether any finding is a warning.
func (r DoctorReport) HasWarnings() bool { return r.has(SeverityWarning) }

// Doctor performs a read-only coherency check between the store, the
// managers and the objects the adapter reports.
func (t *ManagerTable) Doctor(ctx context.Context) (DoctorReport, error) {
	var report DoctorReport
	api := t.store.API()

	// Phase 1: store vs hardware.

	for _, typ := range t.store.ObjectTypes() {
		hwKeys, err := api.ObjectKeys(ctx, typ, t.store.SwitchID())
		if err != nil {
			return report, fmt.Errorf("list %s objects: %w", typ, err)
		}
		inHardware := make(map[string]bool, len(hwKeys))
		for _, k := range hwKeys {
			inHardware[k.String()] = true
		}
		inStore := make(map[string]bool)
		for _, k := range t.store.AdapterKeys(typ) {
			inStore[k.String()] = true
			if !inHardware[k.String()] {
				report.Findings = append(report.Findings, Finding{
					Severity:    SeverityError,
					Category:    "store-vs-hardware",
					Description: fmt.Sprintf("%s %s in store not found in hardware", typ, k),
				})
			}
		}
		for _, k := range hwKeys {
			if inStore[k.String()] {
				continue
			}
			if typ == sai.ObjectTypePort && k == sai.AdapterKey(t.Switch.CPUPort()) {
				continue
			}
			report.Findings = append(report.Findings, Finding{
				Severity:    SeverityWarning,
				Category:    "hardware-vs-store",
				Description: fmt.Sprintf("%s %s in hardware is not tracked by the store", typ, k),
			})
		}
	}

	// Phase 2: unclaimed warm boot handles.

	for typ, keys := range t.store.UnclaimedWarmbootHandles() {
		for _, k := range keys {
			report.Findings = append(report.Findings, Finding{
				Severity:    SeverityWarning,
				Category:    "warmboot",
				Description: fmt.Sprintf("%s %s reloaded but not claimed", typ, k),
			})
		}
	}

	// Phase 3: next hop group members vs neighbor resolution.

	for key, h := range t.NextHopGroups.handles.All() {
		for _, nh := range h.nextHops {
			k := nh.Neighbor()
			_, resolved := t.Neighbors.resolvedNextHop(k)
			switch {
			case resolved && !h.HasMember(k):
				report.Findings = append(report.Findings, Finding{
					Severity:    SeverityWarning,
					Category:    "nexthopgroup-vs-neighbor",
					Description: fmt.Sprintf("group %s is missing a member for resolved neighbor %s", key, k),
				})
			case !resolved && h.HasMember(k):
				report.Findings = append(report.Findings, Finding{
					Severity:    SeverityError,
					Category:    "nexthopgroup-vs-neighbor",
					Description: fmt.Sprintf("group %s has a member for unresolved neighbor %s", key, k),
				})
			}
		}
	}
	if t.NextHopGroups.NeedsResync() {
		report.Findings = append(report.Findings, Finding{
			Severity:    SeverityWarning,
			Category:    "nexthopgroup-vs-neighbor",
			Description: "next hop groups are flagged for resync",
		})
	}
	for _, desc := range t.PendingReleases() {
		report.Findings = append(report.Findings, Finding{
			Severity:    SeverityWarning,
			Category:    "manager-vs-hardware",
			Description: fmt.Sprintf("%s is released but still in hardware", desc),
		})
	}

	return report, nil
}
