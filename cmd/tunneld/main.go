// Package main is the entrypoint for the tunnel control plane daemon.
package main

import "github.com/tunnelnet/controlplane/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
