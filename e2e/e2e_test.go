//go:build e2e

package e2e

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/frobware/go-saiagent/sai"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const routedState = `
[[port]]
id = 1
lanes = [4]
speed_mbps = 100000
admin_up = true

[[port]]
id = 2
lanes = [8]
speed_mbps = 100000
admin_up = true

[[interface]]
id = 1
port = 1
mac = "02:00:00:00:00:01"
addresses = ["10.0.1.1/24"]

[[interface]]
id = 2
port = 2
mac = "02:00:00:00:00:01"
addresses = ["10.0.2.1/24"]

[[neighbor]]
interface = 1
ip = "10.0.1.2"
mac = "02:00:00:00:01:02"
port = 1

[[neighbor]]
interface = 2
ip = "10.0.2.2"
port = 2

[[route]]
prefix = "192.168.0.0/16"
nexthops = [{ interface = 1, ip = "10.0.1.2" }, { interface = 2, ip = "10.0.2.2" }]
`

func TestColdThenWarmBoot(t *testing.T) {
	env := NewTestEnv(t)
	env.WriteState(routedState)

	agent := env.Start()
	agent.WaitForObjects(t, "next-hop-group", 1)
	agent.WaitForObjects(t, "neighbor-entry", 1)
	assert.Equal(t, "cold", agent.Status(t)["boot_type"])
	coldInstance := agent.Status(t)["instance_id"]

	assert.Contains(t, env.Scrape(), `saiagent_switch_boot_info{boot_type="cold",switch_index="0"} 1`)
	agent.Stop(t)

	agent = env.Start()
	agent.WaitForObjects(t, "next-hop-group", 1)
	st := agent.Status(t)
	assert.Equal(t, "warm", st["boot_type"])
	assert.NotEqual(t, coldInstance, st["instance_id"], "each boot gets its own instance id")

	report, err := agent.Client.Doctor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, false, report["errors"], "warm boot must leave hardware coherent: %v", report["findings"])
}

func TestStateFileEditsAreApplied(t *testing.T) {
	env := NewTestEnv(t)
	env.WriteState(routedState)

	agent := env.Start()
	agent.WaitForObjects(t, "next-hop-group", 1)

	// Resolving the second neighbor adds a second entry without
	// recreating the group.
	env.WriteState(strings.Replace(routedState,
		"ip = \"10.0.2.2\"\nport = 2",
		"ip = \"10.0.2.2\"\nmac = \"02:00:00:00:02:02\"\nport = 2", 1))
	agent.WaitForObjects(t, "neighbor-entry", 2)
	assert.Equal(t, 1, agent.ObjectCount(t, "next-hop-group"))

	// An invalid file is rejected and the applied state survives.
	env.WriteState("[[route]]\nprefix = \"10.9.0.0/16\"\nnexthops = [{ interface = 9, ip = \"10.9.0.1\" }]\n")
	assert.Equal(t, 2, agent.ObjectCount(t, "neighbor-entry"))

	env.WriteState("")
	agent.WaitForObjects(t, "next-hop-group", 0)
	agent.WaitForObjects(t, "neighbor-entry", 0)
	assert.Zero(t, env.API.Len(sai.ObjectTypeRouterInterface))
}
