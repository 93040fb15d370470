// saiagent reconciles intended switch state with SAI hardware objects.
package main

import (
	"github.com/alecthomas/kong"

	"github.com/frobware/go-saiagent/cmd/saiagent/cli"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c, cli.KongOptions()...)
	ctx.FatalIfErrorf(ctx.Run(&c))
}
