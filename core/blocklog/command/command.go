// Package command defines the cli commands to operate the logs of a store.
package command

import (
	"context"
	"os"
	"os/signal"

	"go.dedis.ch/hyperlog/cli"
	"go.dedis.ch/hyperlog/core/store/kv"

	// Engines available from the command line.
	_ "go.dedis.ch/hyperlog/core/store/kv/badgerdb"
	_ "go.dedis.ch/hyperlog/core/store/kv/mem"
)

// Initializer implements the log commands of the CLI.
//
// - implements cli.Initializer
type Initializer struct {
}

// SetCommands implements cli.Initializer.
func (i Initializer) SetCommands(provider cli.Provider) {
	a := action{
		printer:  os.Stdout,
		readFile: os.ReadFile,
		openDB:   kv.Open,
		context: func() (context.Context, context.CancelFunc) {
			return signal.NotifyContext(context.Background(), os.Interrupt)
		},
		serveMetrics: serveMetrics,
	}

	engines := provider.SetCommand("engines")
	engines.SetDescription("list the storage engines")
	engines.SetAction(a.enginesAction)

	cmd := provider.SetCommand("log")
	cmd.SetDescription("operate on the logs of a store")

	sub := cmd.SetSubCommand("append")
	sub.SetDescription("append values at the end of a log")
	sub.SetFlags(withCommon(cli.StringSliceFlag{
		Name:     "value",
		Usage:    "value to append, can be repeated",
		Required: true,
	})...)
	sub.SetAction(a.appendAction)

	sub = cmd.SetSubCommand("get")
	sub.SetDescription("print the value of a block")
	sub.SetFlags(withCommon(cli.IntFlag{
		Name:     "index",
		Usage:    "index of the block",
		Required: true,
	}, cli.DurationFlag{
		Name:  "timeout",
		Usage: "maximum time to wait for the block",
	}, cli.BoolFlag{
		Name:  "nowait",
		Usage: "fail immediately if the block is not available",
	})...)
	sub.SetAction(a.getAction)

	sub = cmd.SetSubCommand("info")
	sub.SetDescription("print the state of a log")
	sub.SetFlags(withCommon(cli.BoolFlag{
		Name:  "storage",
		Usage: "include the storage usage",
	})...)
	sub.SetAction(a.infoAction)

	sub = cmd.SetSubCommand("truncate")
	sub.SetDescription("drop the blocks from a length onward")
	sub.SetFlags(withCommon(cli.IntFlag{
		Name:     "length",
		Usage:    "new length of the log",
		Required: true,
	}, cli.IntFlag{
		Name:  "fork",
		Usage: "fork id after the truncation",
	})...)
	sub.SetAction(a.truncateAction)

	sub = cmd.SetSubCommand("treehash")
	sub.SetDescription("print the hash of the tree")
	sub.SetFlags(withCommon(cli.IntFlag{
		Name:  "length",
		Usage: "length of the tree, the current one by default",
	})...)
	sub.SetAction(a.treeHashAction)

	sub = cmd.SetSubCommand("seek")
	sub.SetDescription("print the block containing a byte offset")
	sub.SetFlags(withCommon(cli.IntFlag{
		Name:     "offset",
		Usage:    "byte offset",
		Required: true,
	})...)
	sub.SetAction(a.seekAction)

	sub = cmd.SetSubCommand("cat")
	sub.SetDescription("print a range of values")
	sub.SetFlags(withCommon(cli.IntFlag{
		Name:  "start",
		Usage: "first block",
	}, cli.IntFlag{
		Name:  "end",
		Usage: "block after the last one, the length by default",
	})...)
	sub.SetAction(a.catAction)

	sub = cmd.SetSubCommand("tail")
	sub.SetDescription("print the values appended to a log until interrupted")
	sub.SetFlags(withCommon(cli.IntFlag{
		Name:  "start",
		Usage: "first block, the length by default",
	}, cli.StringFlag{
		Name:  "metrics",
		Usage: "if provided, serve the prometheus metrics on that address",
	})...)
	sub.SetAction(a.tailAction)

	sub = cmd.SetSubCommand("clear")
	sub.SetDescription("forget the content of a range of blocks")
	sub.SetFlags(withCommon(cli.IntFlag{
		Name:     "start",
		Usage:    "first block",
		Required: true,
	}, cli.IntFlag{
		Name:     "end",
		Usage:    "block after the last one",
		Required: true,
	}, cli.BoolFlag{
		Name:  "diff",
		Usage: "print the number of bytes cleared",
	})...)
	sub.SetAction(a.clearAction)

	sub = cmd.SetSubCommand("names")
	sub.SetDescription("list the names of the logs of the store")
	sub.SetFlags(withCommon()...)
	sub.SetAction(a.namesAction)

	userdata := cmd.SetSubCommand("userdata")
	userdata.SetDescription("manage the user data of a log")

	sub = userdata.SetSubCommand("set")
	sub.SetDescription("set or delete a user value")
	sub.SetFlags(withCommon(cli.StringFlag{
		Name:     "key",
		Usage:    "key of the value",
		Required: true,
	}, cli.StringFlag{
		Name:  "value",
		Usage: "value to store",
	}, cli.BoolFlag{
		Name:  "delete",
		Usage: "delete the key instead",
	})...)
	sub.SetAction(a.setUserDataAction)

	sub = userdata.SetSubCommand("get")
	sub.SetDescription("print a user value")
	sub.SetFlags(withCommon(cli.StringFlag{
		Name:     "key",
		Usage:    "key of the value",
		Required: true,
	})...)
	sub.SetAction(a.getUserDataAction)
}

// withCommon returns the flags shared by the commands followed by the extra
// ones.
func withCommon(extra ...cli.Flag) []cli.Flag {
	common := []cli.Flag{
		cli.StringFlag{
			Name:    "dir",
			Usage:   "data directory of the store",
			EnvVars: []string{"HYPERLOG_DIR"},
			Value:   ".hyperlog",
		},
		cli.StringFlag{
			Name:    "config",
			Usage:   "path to the configuration file, " + ConfigName + " of the data directory by default",
			EnvVars: []string{"HYPERLOG_CONFIG"},
		},
		cli.StringFlag{
			Name:    "name",
			Usage:   "name of the log",
			EnvVars: []string{"HYPERLOG_NAME"},
			Value:   "default",
		},
		cli.StringFlag{
			Name:    "engine",
			Usage:   "storage engine (bbolt, badger or mem)",
			EnvVars: []string{"HYPERLOG_ENGINE"},
		},
		cli.StringFlag{
			Name:    "encoding",
			Usage:   "value encoding (binary, utf-8 or json)",
			EnvVars: []string{"HYPERLOG_ENCODING"},
		},
		cli.IntFlag{
			Name:  "cache-size",
			Usage: "number of blocks kept in memory",
		},
	}

	return append(common, extra...)
}
