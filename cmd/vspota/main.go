package main

import (
	"github.com/alecthomas/kong"

	"github.com/vitaminmoo/vsp-ota/internal/cli"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c,
		kong.Name("vspota"),
		kong.Description("Transfer applications to modules over BLE VSP, UART or a WebSocket bridge"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&c)
	ctx.FatalIfErrorf(err)
}
