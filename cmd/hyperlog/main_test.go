package main

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/hyperlog/cli"
	"go.dedis.ch/hyperlog/cli/ucli"
	"go.dedis.ch/hyperlog/core/blocklog/command"
)

func TestMain_Failure(t *testing.T) {
	defer restore(builder, printer)

	builder = &fakeBuilder{err: errors.New("oops")}
	buf := new(bytes.Buffer)
	printer = buf

	main()

	require.Equal(t, "oops\n", buf.String())
}

func TestRun(t *testing.T) {
	defer restore(builder, printer)

	b := &fakeBuilder{}
	builder = b

	err := run([]string{"hyperlog"}, command.Initializer{})
	require.NoError(t, err)
	require.True(t, b.built)
	require.Equal(t, []string{"engines", "log"}, b.commands)
}

func TestRun_Engines(t *testing.T) {
	defer restore(builder, printer)

	builder = ucli.NewBuilder("hyperlog", nil)

	err := run([]string{"hyperlog", "engines"}, command.Initializer{})
	require.NoError(t, err)
}

func TestRun_UnknownFlag(t *testing.T) {
	defer restore(builder, printer)

	builder = ucli.NewBuilder("hyperlog", nil)

	err := run([]string{"hyperlog", "log", "info", "--unknown"}, command.Initializer{})
	require.Error(t, err)
}

// -----------------------------------------------------------------------------
// Utility functions

func restore(b cli.Builder, p io.Writer) {
	builder = b
	printer = p
}

type fakeBuilder struct {
	err      error
	built    bool
	commands []string
}

func (f *fakeBuilder) Build() cli.Application {
	f.built = true
	return fakeApp{err: f.err}
}

func (f *fakeBuilder) SetCommand(name string) cli.CommandBuilder {
	f.commands = append(f.commands, name)
	return fakeCommandBuilder{}
}

type fakeCommandBuilder struct{}

func (b fakeCommandBuilder) SetSubCommand(name string) cli.CommandBuilder {
	return b
}

func (b fakeCommandBuilder) SetDescription(value string) {}

func (b fakeCommandBuilder) SetFlags(flags ...cli.Flag) {}

func (b fakeCommandBuilder) SetAction(a cli.Action) {}

type fakeApp struct {
	err error
}

func (f fakeApp) Run(arguments []string) error {
	return f.err
}
