package main

import (
	"github.com/CloudNativeWorks/volzip/cmd"
	"github.com/CloudNativeWorks/volzip/pkg/logger"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "1.0"

func main() {
	if err := cmd.Execute(version); err != nil {
		logger.Exitf(cmd.ExitCode(err), "Error: %v", err)
	}
}
