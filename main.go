package main

import (
	"os"

	"github.com/ipcam/streamworker/cmd"
	"github.com/ipcam/streamworker/internal/conf"
)

func main() {
	settings := &conf.Settings{}
	if err := cmd.RootCommand(settings).Execute(); err != nil {
		os.Exit(1)
	}
}
