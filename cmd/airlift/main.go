// Package main is the entry point for the airlift binary.
package main

import (
	"os"

	cli "airlift-demo/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
