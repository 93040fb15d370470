package cli

import (
	"context"
	"errors"
	"time"

	"github.com/frobware/go-saiagent/client"
)

// DiagCmd groups queries against a running agent.
type DiagCmd struct {
	Timeout time.Duration `name:"timeout" help:"Per-request timeout." default:"10s"`

	Status   DiagStatusCmd   `cmd:"" help:"Show boot type, switch ids and object counts."`
	Port     DiagPortCmd     `cmd:"" help:"Show the hardware objects behind a port."`
	Route    DiagRouteCmd    `cmd:"" help:"Show a route and its next hop group."`
	Neighbor DiagNeighborCmd `cmd:"" help:"Show a neighbor and its next hop."`
	Objects  DiagObjectsCmd  `cmd:"" help:"List managed objects."`
	Stats    DiagStatsCmd    `cmd:"" help:"Show port counters."`
	Doctor   DiagDoctorCmd   `cmd:"" help:"Run coherency checks."`
}

// errDoctorFindings is returned when doctor reports at least one error.
var errDoctorFindings = errors.New("doctor reported errors")

// query dials the agent and runs fn with a bounded context.
func (cli *CLI) query(fn func(ctx context.Context, c *client.Client) (map[string]any, error)) (map[string]any, error) {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return nil, err
	}
	addr, err := cli.RemoteAddress(cfg)
	if err != nil {
		return nil, err
	}
	c, err := client.Dial(addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cli.Diag.Timeout)
	defer cancel()
	return fn(ctx, c)
}

// printQuery runs fn and prints its response.
func (cli *CLI) printQuery(fn func(ctx context.Context, c *client.Client) (map[string]any, error)) error {
	resp, err := cli.query(fn)
	if err != nil {
		return err
	}
	return cli.printJSON(resp)
}

// DiagStatusCmd shows agent status.
type DiagStatusCmd struct{}

// Run executes the diag status command.
func (c *DiagStatusCmd) Run(cli *CLI) error {
	return cli.printQuery(func(ctx context.Context, cl *client.Client) (map[string]any, error) {
		return cl.Status(ctx)
	})
}

// DiagPortCmd shows one port.
type DiagPortCmd struct {
	Port uint32 `arg:"" help:"Port id."`
}

// Run executes the diag port command.
func (c *DiagPortCmd) Run(cli *CLI) error {
	return cli.printQuery(func(ctx context.Context, cl *client.Client) (map[string]any, error) {
		return cl.PortHandle(ctx, c.Port)
	})
}

// DiagRouteCmd shows one route.
type DiagRouteCmd struct {
	Prefix string `arg:"" help:"Route prefix, e.g. 10.0.0.0/24."`
	Router uint32 `name:"router" help:"Virtual router id." default:"0"`
}

// Run executes the diag route command.
func (c *DiagRouteCmd) Run(cli *CLI) error {
	return cli.printQuery(func(ctx context.Context, cl *client.Client) (map[string]any, error) {
		return cl.RouteHandle(ctx, c.Router, c.Prefix)
	})
}

// DiagNeighborCmd shows one neighbor.
type DiagNeighborCmd struct {
	Interface uint32 `arg:"" help:"Router interface id."`
	IP        string `arg:"" help:"Neighbor IP address."`
}

// Run executes the diag neighbor command.
func (c *DiagNeighborCmd) Run(cli *CLI) error {
	return cli.printQuery(func(ctx context.Context, cl *client.Client) (map[string]any, error) {
		return cl.NeighborHandle(ctx, c.Interface, c.IP)
	})
}

// DiagObjectsCmd lists managed objects.
type DiagObjectsCmd struct {
	Manager string `name:"manager" help:"Only list objects owned by this manager."`
}

// Run executes the diag objects command.
func (c *DiagObjectsCmd) Run(cli *CLI) error {
	return cli.printQuery(func(ctx context.Context, cl *client.Client) (map[string]any, error) {
		return cl.ListObjects(ctx, c.Manager)
	})
}

// DiagStatsCmd shows port counters.
type DiagStatsCmd struct {
	Port *uint32 `name:"port" help:"Only show this port."`
}

// Run executes the diag stats command.
func (c *DiagStatsCmd) Run(cli *CLI) error {
	return cli.printQuery(func(ctx context.Context, cl *client.Client) (map[string]any, error) {
		return cl.PortStats(ctx, c.Port)
	})
}

// DiagDoctorCmd runs coherency checks and fails when any error is found.
type DiagDoctorCmd struct{}

// Run executes the diag doctor command.
func (c *DiagDoctorCmd) Run(cli *CLI) error {
	resp, err := cli.query(func(ctx context.Context, cl *client.Client) (map[string]any, error) {
		return cl.Doctor(ctx)
	})
	if err != nil {
		return err
	}
	if err := cli.printJSON(resp); err != nil {
		return err
	}
	if failed, _ := resp["errors"].(bool); failed {
		return errDoctorFindings
	}
	return nil
}
