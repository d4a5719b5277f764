// Package main is the entry point for the atlas CLI.
package main

import (
	"github.com/codeatlas/atlas/internal/cmd"
)

func main() {
	cmd.Execute()
}
