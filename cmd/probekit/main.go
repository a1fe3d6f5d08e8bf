// Command probekit runs the multi-layer readiness checks against a target.
package main

import (
	"os"

	"github.com/raysh454/probekit/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
