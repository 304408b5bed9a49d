// Package main is the single-binary entrypoint for streakforge.
package main

import "github.com/streakforge/streakforge/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
