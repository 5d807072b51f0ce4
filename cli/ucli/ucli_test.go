package ucli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/hyperlog/cli"
)

func TestBuilder_Build(t *testing.T) {
	out := new(bytes.Buffer)

	builder := NewBuilderWithOptions("test", nil, nil, WithUsage("a test"), WithWriter(out))
	app := builder.Build().(*urfave.App)

	require.Equal(t, "test", app.Name)
	require.Equal(t, "a test", app.Usage)

	err := app.Run([]string{"test"})
	require.NoError(t, err)
	require.Contains(t, out.String(), "a test")
}

func TestBuilder_SetCommand(t *testing.T) {
	builder := NewBuilder("test", nil)

	builder.SetCommand("second")
	builder.SetCommand("first")

	app := builder.Build().(*urfave.App)

	require.Len(t, app.Commands, 3)
	require.Equal(t, "first", app.Commands[0].Name)
	require.Equal(t, "second", app.Commands[1].Name)
	require.Equal(t, "help", app.Commands[2].Name)
}

func TestBuilder_Run(t *testing.T) {
	builder := NewBuilderWithOptions("test", nil, nil, WithWriter(new(bytes.Buffer)))

	var values []string
	var count int

	cmd := builder.SetCommand("log")
	sub := cmd.SetSubCommand("append")
	sub.SetFlags(cli.StringSliceFlag{Name: "value"}, cli.IntFlag{
		Name:    "count",
		EnvVars: []string{"UCLI_TEST_COUNT"},
	})
	sub.SetAction(func(flags cli.Flags) error {
		values = flags.StringSlice("value")
		count = flags.Int("count")
		return nil
	})

	t.Setenv("UCLI_TEST_COUNT", "3")

	err := builder.Build().Run([]string{"test", "log", "append", "--value", "a", "--value", "b"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, values)
	require.Equal(t, 3, count)
}

func TestCmdBuilder_Build(t *testing.T) {
	builder := NewBuilder("test", nil).(*Builder)
	cmd := builder.SetCommand("first")

	cmd.SetAction(func(flags cli.Flags) error { return nil })
	cmd.SetDescription("first action")
	cmd.SetFlags(cli.StringFlag{
		Name:     "arg",
		Usage:    "this is a test arg",
		Required: true,
		Value:    "default",
	})
	cmd.SetSubCommand("second")

	require.Len(t, builder.commands, 1)

	res := builder.commands[0].build()
	require.Equal(t, "first", res.Name)
	require.Equal(t, "first action", res.Usage)
	require.NotNil(t, res.Action)
	require.Len(t, res.Flags, 1)
	require.Len(t, res.Subcommands, 1)
	require.Nil(t, res.Subcommands[0].Action)
}

func TestBuildFlags(t *testing.T) {
	in := []cli.Flag{
		cli.StringFlag{Name: "name1", EnvVars: []string{"ENV1"}, Value: "value1"},
		cli.StringSliceFlag{Name: "name2", Value: []string{}},
		cli.DurationFlag{Name: "name3", Value: time.Minute},
		cli.IntFlag{Name: "name4", Value: 1},
		cli.BoolFlag{Name: "name5", Value: true},
	}

	out := buildFlags(in)
	require.Len(t, out, 5)

	for i, name := range []string{"name1", "name2", "name3", "name4", "name5"} {
		require.Equal(t, name, out[i].Names()[0])
	}

	require.Equal(t, []string{"ENV1"}, out[0].(*urfave.StringFlag).EnvVars)
}

func TestBuildFlags_Panic(t *testing.T) {
	defer func() {
		r := recover()
		require.Equal(t, "flag type '<nil>' not supported", r)
	}()

	buildFlags([]cli.Flag{nil})
}

func TestMakeAction(t *testing.T) {
	require.Nil(t, makeAction(nil))

	called := false
	res := makeAction(func(flags cli.Flags) error {
		require.Nil(t, flags)
		called = true
		return nil
	})

	require.NoError(t, res(nil))
	require.True(t, called)
}
