package command

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/hyperlog/cli"
	"go.dedis.ch/hyperlog/testing/fake"
)

func TestInitializer_SetCommands(t *testing.T) {
	init := Initializer{}

	call := &fake.Call{}
	provider := fakeBuilder{call: call}
	init.SetCommands(provider)

	require.Equal(t, 55, call.Len())
	require.Equal(t, "engines", call.Get(0, 0))
	require.Equal(t, "log", call.Get(3, 0))
	require.Equal(t, "append", call.Get(5, 0))
}

func TestWithCommon(t *testing.T) {
	flags := withCommon(cli.BoolFlag{Name: "extra"})
	require.Len(t, flags, 7)
	require.Equal(t, cli.BoolFlag{Name: "extra"}, flags[6])
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeCommandBuilder struct {
	call *fake.Call
}

func (b fakeCommandBuilder) SetSubCommand(name string) cli.CommandBuilder {
	b.call.Add(name)
	return b
}

func (b fakeCommandBuilder) SetDescription(value string) {
	b.call.Add(value)
}

func (b fakeCommandBuilder) SetFlags(flags ...cli.Flag) {
	b.call.Add(flags)
}

func (b fakeCommandBuilder) SetAction(a cli.Action) {
	b.call.Add(a)
}

type fakeBuilder struct {
	call *fake.Call
}

func (b fakeBuilder) SetCommand(name string) cli.CommandBuilder {
	b.call.Add(name)
	return fakeCommandBuilder(b)
}
