package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)

	tf, err = ParseTimeframe("d")
	require.NoError(t, err)
	assert.Equal(t, "1d", tf.Key)

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)

	keys := SupportedTimeframes()
	assert.Equal(t, "1m", keys[0])
	assert.Equal(t, "1w", keys[len(keys)-1])
}

func TestTimeframe_AlignRangeAndExpected(t *testing.T) {
	tf, _ := ParseTimeframe("1h")
	hour := time.Hour.Milliseconds()
	start, end := tf.AlignRange(10*hour+123, 5*hour+7)
	assert.Equal(t, 5*hour, start)
	assert.Equal(t, 10*hour, end)
	assert.Equal(t, int64(6), tf.ExpectedCandles(start, end))
	assert.Equal(t, int64(0), tf.ExpectedCandles(end, start))
}

func TestTimeframe_WeeklyAlignsToMonday(t *testing.T) {
	tf, _ := ParseTimeframe("1w")
	wed := time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC).UnixMilli()
	start, _ := tf.AlignRange(wed, wed)
	got := time.UnixMilli(start).UTC()
	assert.Equal(t, time.Monday, got.Weekday())
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), got)
}
