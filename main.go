package main

import (
	"os"

	"github.com/dermascan/dermascan/cmd"
	"github.com/dermascan/dermascan/internal/buildinfo"
	"github.com/dermascan/dermascan/internal/conf"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	settings := &conf.Settings{}
	build := buildinfo.NewContext(version, buildDate)

	if err := cmd.RootCommand(settings, build).Execute(); err != nil {
		os.Exit(1)
	}
}
