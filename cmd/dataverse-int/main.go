// Command dataverse-int uploads files directly to Dataverse dataset storage.
package main

import (
	"os"

	"github.com/iqss/dataverse-int/internal/cli"
	"github.com/iqss/dataverse-int/internal/version"
)

// Set by ldflags:
//
//	go build -ldflags "-X main.Version=v1.0.0 -X main.BuildTime=$(date -u +%Y-%m-%d)"
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
