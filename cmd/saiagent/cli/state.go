package cli

import (
	"fmt"

	"github.com/frobware/go-saiagent/statefile"
)

// StateCmd groups intended state file operations.
type StateCmd struct {
	Check StateCheckCmd `cmd:"" help:"Validate an intended state file."`
}

// StateCheckCmd validates a state file without touching hardware.
type StateCheckCmd struct {
	File string `arg:"" help:"State file to check." type:"existingfile"`
}

// Run executes the state check command.
func (c *StateCheckCmd) Run(cli *CLI) error {
	s, err := statefile.Load(c.File)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cli.Stdout(), "%s: ok (%d ports, %d vlans, %d interfaces, %d neighbors, %d routes, %d mirrors)\n",
		c.File, len(s.Ports), len(s.Vlans), len(s.Interfaces), len(s.Neighbors), len(s.Routes), len(s.Mirrors))
	return err
}
