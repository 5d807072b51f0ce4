// Package ucli provides a cli builder implementation based on the urfave/cli
// library.
package ucli

import (
	"fmt"
	"io"
	"sort"

	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/hyperlog/cli"
)

// Builder implements a cli builder based on urfave/cli. The commands are
// listed by name in the help.
//
// - implements cli.Builder
type Builder struct {
	name     string
	usage    string
	writer   io.Writer
	action   cli.Action
	flags    []cli.Flag
	commands []*cmdBuilder
}

// Option is the type of the options to set up the application.
type Option func(*Builder)

// WithUsage sets the one-line description of the application.
func WithUsage(usage string) Option {
	return func(b *Builder) {
		b.usage = usage
	}
}

// WithWriter sets the output of the help and of the version.
func WithWriter(w io.Writer) Option {
	return func(b *Builder) {
		b.writer = w
	}
}

// NewBuilder returns a new initialized builder. Action allows one to define a
// primary action, but can be nil if we only needs to define commands. Flags
// provides the global flags available from all the commands/subcommands.
func NewBuilder(name string, action cli.Action, flags ...cli.Flag) cli.Builder {
	return NewBuilderWithOptions(name, action, flags)
}

// NewBuilderWithOptions returns a new builder set up with the options.
func NewBuilderWithOptions(name string, action cli.Action, flags []cli.Flag, opts ...Option) *Builder {
	b := &Builder{
		name:   name,
		action: action,
		flags:  flags,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Build implements cli.Builder.
func (b *Builder) Build() cli.Application {
	app := &urfave.App{
		Name:     b.name,
		Usage:    b.usage,
		Action:   makeAction(b.action),
		Flags:    buildFlags(b.flags),
		Commands: buildCommands(b.commands),
	}

	if b.writer != nil {
		app.Writer = b.writer
	}

	app.Setup()

	return app
}

// SetCommand implements cli.Builder.
func (b *Builder) SetCommand(name string) cli.CommandBuilder {
	cmd := &cmdBuilder{name: name}
	b.commands = append(b.commands, cmd)

	return cmd
}

// cmdBuilder collects the definition of a command until the application is
// built.
//
// - implements cli.CommandBuilder
type cmdBuilder struct {
	name        string
	description string
	action      cli.Action
	flags       []cli.Flag
	subcommands []*cmdBuilder
}

// SetDescription implements cli.CommandBuilder.
func (b *cmdBuilder) SetDescription(value string) {
	b.description = value
}

// SetFlags implements cli.CommandBuilder.
func (b *cmdBuilder) SetFlags(flags ...cli.Flag) {
	b.flags = flags
}

// SetAction implements cli.CommandBuilder.
func (b *cmdBuilder) SetAction(action cli.Action) {
	b.action = action
}

// SetSubCommand implements cli.CommandBuilder.
func (b *cmdBuilder) SetSubCommand(name string) cli.CommandBuilder {
	sub := &cmdBuilder{name: name}
	b.subcommands = append(b.subcommands, sub)

	return sub
}

func (b *cmdBuilder) build() *urfave.Command {
	return &urfave.Command{
		Name:        b.name,
		Usage:       b.description,
		Action:      makeAction(b.action),
		Flags:       buildFlags(b.flags),
		Subcommands: buildCommands(b.subcommands),
	}
}

func buildCommands(cmds []*cmdBuilder) []*urfave.Command {
	commands := make([]*urfave.Command, len(cmds))
	for i, cmd := range cmds {
		commands[i] = cmd.build()
	}

	sort.Slice(commands, func(i, j int) bool {
		return commands[i].Name < commands[j].Name
	})

	return commands
}

// buildFlags converts the definitions to their urfave counterpart. It panics
// on an unknown definition.
func buildFlags(flags []cli.Flag) []urfave.Flag {
	res := make([]urfave.Flag, len(flags))

	for i, f := range flags {
		res[i] = convertFlag(f)
	}

	return res
}

func convertFlag(f cli.Flag) urfave.Flag {
	switch e := f.(type) {
	case cli.StringFlag:
		return &urfave.StringFlag{
			Name:     e.Name,
			Usage:    e.Usage,
			EnvVars:  e.EnvVars,
			Required: e.Required,
			Value:    e.Value,
		}
	case cli.StringSliceFlag:
		return &urfave.StringSliceFlag{
			Name:     e.Name,
			Usage:    e.Usage,
			EnvVars:  e.EnvVars,
			Required: e.Required,
			Value:    urfave.NewStringSlice(e.Value...),
		}
	case cli.DurationFlag:
		return &urfave.DurationFlag{
			Name:     e.Name,
			Usage:    e.Usage,
			EnvVars:  e.EnvVars,
			Required: e.Required,
			Value:    e.Value,
		}
	case cli.IntFlag:
		return &urfave.IntFlag{
			Name:     e.Name,
			Usage:    e.Usage,
			EnvVars:  e.EnvVars,
			Required: e.Required,
			Value:    e.Value,
		}
	case cli.BoolFlag:
		return &urfave.BoolFlag{
			Name:     e.Name,
			Usage:    e.Usage,
			EnvVars:  e.EnvVars,
			Required: e.Required,
			Value:    e.Value,
		}
	default:
		panic(fmt.Sprintf("flag type '%T' not supported", f))
	}
}

// makeAction transforms a cli.Action to its urfave form. The urfave context
// already provides the primitives of cli.Flags.
func makeAction(action cli.Action) urfave.ActionFunc {
	if action == nil {
		return nil
	}

	return func(ctx *urfave.Context) error {
		return action(ctx)
	}
}
