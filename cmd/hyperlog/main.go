// Package main provides a cli to create and read the logs of a store.
//
//	hyperlog log append --value hello --value world
//	hyperlog log cat
//	hyperlog log tail --metrics 127.0.0.1:9100
package main

import (
	"fmt"
	"io"
	"os"

	"go.dedis.ch/hyperlog/cli"
	"go.dedis.ch/hyperlog/cli/ucli"
	"go.dedis.ch/hyperlog/core/blocklog/command"
)

var builder cli.Builder = ucli.NewBuilder("hyperlog", nil)
var printer io.Writer = os.Stderr

func main() {
	err := run(os.Args, command.Initializer{})
	if err != nil {
		fmt.Fprintf(printer, "%+v\n", err)
	}
}

func run(args []string, inits ...cli.Initializer) error {
	for _, init := range inits {
		init.SetCommands(builder)
	}

	app := builder.Build()
	err := app.Run(args)
	if err != nil {
		return err
	}

	return nil
}
