package cli

import "time"

// Each flag definition has a name, a usage shown in the help and an optional
// list of environment variables read when the flag is not given. A required
// flag must be given either way.

// StringFlag is a flag parsed as a string.
//
// - implements cli.Flag
type StringFlag struct {
	Name     string
	Usage    string
	EnvVars  []string
	Required bool
	Value    string
}

// Flag implements cli.Flag.
func (StringFlag) Flag() {}

// StringSliceFlag is a flag that can be repeated. The values are kept in
// order.
//
// - implements cli.Flag
type StringSliceFlag struct {
	Name     string
	Usage    string
	EnvVars  []string
	Required bool
	Value    []string
}

// Flag implements cli.Flag.
func (StringSliceFlag) Flag() {}

// DurationFlag is a flag parsed as a duration like "1m30s".
//
// - implements cli.Flag
type DurationFlag struct {
	Name     string
	Usage    string
	EnvVars  []string
	Required bool
	Value    time.Duration
}

// Flag implements cli.Flag.
func (DurationFlag) Flag() {}

// IntFlag is a flag parsed as an integer.
//
// - implements cli.Flag
type IntFlag struct {
	Name     string
	Usage    string
	EnvVars  []string
	Required bool
	Value    int
}

// Flag implements cli.Flag.
func (IntFlag) Flag() {}

// BoolFlag is a flag that is true when present.
//
// - implements cli.Flag
type BoolFlag struct {
	Name     string
	Usage    string
	EnvVars  []string
	Required bool
	Value    bool
}

// Flag implements cli.Flag.
func (BoolFlag) Flag() {}
