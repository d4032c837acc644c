package main

import (
	"flag"

	"go.uber.org/fx"

	"github.com/huddle-chat/huddle/internal/daemon"
)

func main() {
	configFlag := flag.String("config", "", "path to huddled.toml (default ~/.huddle/huddled.toml)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath: *configFlag,
			Listen:     *listenFlag,
		}),
	)

	app.Run()
}
