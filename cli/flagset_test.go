package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlagSet_String(t *testing.T) {
	fset := FlagSet{"a": "value", "b": 1}

	require.Equal(t, "value", fset.String("a"))
	require.Equal(t, "", fset.String("b"))
	require.Equal(t, "value", fset.Path("a"))
	require.Equal(t, "", fset.Path("c"))
}

func TestFlagSet_StringSlice(t *testing.T) {
	fset := FlagSet{
		"a": []string{"1", "2"},
		"b": []interface{}{"3"},
		"c": "4",
	}

	require.Equal(t, []string{"1", "2"}, fset.StringSlice("a"))
	require.Equal(t, []string{"3"}, fset.StringSlice("b"))
	require.Nil(t, fset.StringSlice("c"))
}

func TestFlagSet_Duration(t *testing.T) {
	fset := FlagSet{"a": time.Second, "b": float64(time.Minute), "c": "x"}

	require.Equal(t, time.Second, fset.Duration("a"))
	require.Equal(t, time.Minute, fset.Duration("b"))
	require.Equal(t, time.Duration(0), fset.Duration("c"))
}

func TestFlagSet_Int(t *testing.T) {
	fset := FlagSet{"a": 1, "b": float64(2), "c": "x"}

	require.Equal(t, 1, fset.Int("a"))
	require.Equal(t, 2, fset.Int("b"))
	require.Equal(t, 0, fset.Int("c"))
}

func TestFlagSet_Bool(t *testing.T) {
	fset := FlagSet{"a": true, "b": "true"}

	require.True(t, fset.Bool("a"))
	require.False(t, fset.Bool("b"))
	require.True(t, fset.IsSet("b"))
	require.False(t, fset.IsSet("c"))
}
