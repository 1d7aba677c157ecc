package main

import (
	"os"

	"github.com/fzmap/mapserver/common/log"
	mapservercli "github.com/fzmap/mapserver/internal/mapserver-cli"
)

func main() {
	app := mapservercli.CLI()
	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger().Fatalw("", "binary", "mapserver", "err", err)
	}
}
