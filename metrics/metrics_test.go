package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	saiagent "github.com/frobware/go-saiagent"
	"github.com/frobware/go-saiagent/hwswitch"
	"github.com/frobware/go-saiagent/sai"
	"github.com/frobware/go-saiagent/sai/fake"
)

func TestInstrumentCountsCallsByStatus(t *testing.T) {
	ctx := context.Background()
	m := New()
	api := fake.New()
	wrapped := m.Instrument(api)

	sw, err := wrapped.Create(ctx, sai.ObjectTypeSwitch, sai.NullObjectID, nil)
	require.NoError(t, err)

	api.FailNext("create", sai.ObjectTypeScheduler, sai.StatusTableFull, 1)
	_, err = wrapped.Create(ctx, sai.ObjectTypeScheduler, sw, nil)
	require.Error(t, err)
	_, err = wrapped.Create(ctx, sai.ObjectTypeScheduler, sw, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sdkCalls.WithLabelValues("create", "scheduler", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sdkCalls.WithLabelValues("create", "scheduler", "TABLE_FULL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sdkCalls.WithLabelValues("create", "switch", "SUCCESS")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.sdkDuration), "one histogram per op and type")
}

func TestObserveBatch(t *testing.T) {
	m := New()
	m.ObserveBatch(nil)
	m.ObserveBatch(nil)
	m.ObserveBatch(assert.AnError)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.batches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("error")))
}

type fakeSource struct{}

func (fakeSource) ObjectCounts() map[sai.ObjectType]int {
	return map[sai.ObjectType]int{sai.ObjectTypePort: 2, sai.ObjectTypeRouteEntry: 5}
}

func (fakeSource) AllPortStats() map[saiagent.PortID]map[sai.StatID]uint64 {
	return map[saiagent.PortID]map[sai.StatID]uint64{
		1: {sai.PortStatIfInOctets: 100, sai.PortStatIfOutOctets: 200},
	}
}

func (fakeSource) EventStats() hwswitch.EventStats {
	return hwswitch.EventStats{PacketsReceived: 7, PacketsDropped: 1, LinkEvents: 3}
}

func (fakeSource) BootType() hwswitch.BootType { return hwswitch.BootTypeWarm }

func TestSwitchCollector(t *testing.T) {
	c := NewSwitchCollector(fakeSource{}, 0)

	assert.Equal(t, 2, testutil.CollectAndCount(c, "saiagent_store_objects"))
	assert.Equal(t, 2, testutil.CollectAndCount(c, "saiagent_port_counter_total"))
	assert.Equal(t, 3, testutil.CollectAndCount(c, "saiagent_rx_packets_total"))

	expected := `
# HELP saiagent_switch_boot_info How the switch came up.
# TYPE saiagent_switch_boot_info gauge
saiagent_switch_boot_info{boot_type="warm",switch_index="0"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "saiagent_switch_boot_info"))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.MustRegister(NewSwitchCollector(fakeSource{}, 3))
	m.ObserveBatch(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `saiagent_state_batches_total{result="ok"} 1`)
	assert.Contains(t, body, `saiagent_store_objects{object_type="route-entry",switch_index="3"} 5`)
	assert.Contains(t, body, "go_goroutines")
}
