// Package main is the single-binary entrypoint for the inference gateway.
package main

import (
	"github.com/turtacn/inferserve/internal/cli"

	// Backend plugins register themselves via init(); blank-import every
	// backend this binary ships with.
	_ "github.com/turtacn/inferserve/internal/plugin/mock"
	_ "github.com/turtacn/inferserve/internal/plugin/subprocess"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
