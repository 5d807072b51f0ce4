package blocklog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRange_Interval(t *testing.T) {
	start, end := Range{Start: 2, End: 5}.interval()
	require.Equal(t, uint64(2), start)
	require.Equal(t, uint64(5), end)

	start, end = Range{Start: 5, End: 5}.interval()
	require.Equal(t, start, end)

	start, end = Range{Start: 0, End: 3, Blocks: []uint64{7, 1}}.interval()
	require.Equal(t, start, end)

	start, end = Range{Start: 1, End: math.MaxUint64}.interval()
	require.Equal(t, uint64(1), start)
	require.Equal(t, uint64(math.MaxUint64), end)
}

func TestEventType_String(t *testing.T) {
	require.Equal(t, "append", AppendEvent.String())
	require.Equal(t, "truncate", TruncateEvent.String())
	require.Equal(t, "close", CloseEvent.String())
	require.Equal(t, "unknown", EventType(42).String())
}
