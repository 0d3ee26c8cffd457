package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dikwickley/promptoncron/internal/apperr"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func TestNextFire_StrictlyAfter(t *testing.T) {
	from := mustTime(t, "2026-01-15T10:00:00Z")

	exprs := []string{"0 * * * *", "*/15 * * * *", "30 9 * * 1-5", "@daily", "0 0 1 * *"}
	zones := []string{"UTC", "America/New_York", "Asia/Tokyo", "Europe/Berlin"}

	for _, expr := range exprs {
		for _, tz := range zones {
			got, err := NextFire(expr, tz, from)
			require.NoError(t, err, "%s %s", expr, tz)
			assert.True(t, got.After(from), "%s %s: %s not after %s", expr, tz, got, from)
			assert.Equal(t, time.UTC, got.Location())
		}
	}
}

func TestNextFire_OnExactFireTime(t *testing.T) {
	from := mustTime(t, "2026-01-15T11:00:00Z")

	got, err := NextFire("0 * * * *", "UTC", from)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-01-15T12:00:00Z"), got)
}

func TestNextFire_UsesTaskTimezone(t *testing.T) {
	from := mustTime(t, "2026-01-15T12:00:00Z") // 07:00 in New York (EST)

	got, err := NextFire("0 9 * * *", "America/New_York", from)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-01-15T14:00:00Z"), got)

	// 09:00 JST exactly: the next fire is a day later.
	got, err = NextFire("0 9 * * *", "Asia/Tokyo", mustTime(t, "2026-01-15T00:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-01-16T00:00:00Z"), got)
}

func TestNextFire_EmptyTimezoneIsUTC(t *testing.T) {
	got, err := NextFire("0 9 * * *", "", mustTime(t, "2026-01-15T00:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-01-15T09:00:00Z"), got)
}

func TestNextFire_Invalid(t *testing.T) {
	from := mustTime(t, "2026-01-15T00:00:00Z")

	tests := []struct {
		name string
		expr string
		tz   string
	}{
		{"empty expression", "", "UTC"},
		{"garbage", "not a cron", "UTC"},
		{"six fields", "0 0 * * * *", "UTC"},
		{"out of range", "61 * * * *", "UTC"},
		{"bad timezone", "0 * * * *", "Mars/Olympus"},
		{"host local timezone", "0 * * * *", "Local"},
		{"tz prefix", "TZ=Asia/Tokyo 0 9 * * *", "UTC"},
		{"cron_tz prefix", "CRON_TZ=Asia/Tokyo 0 9 * * *", "UTC"},
		{"never fires", "0 0 30 2 *", "UTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextFire(tt.expr, tt.tz, from)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.InvalidSchedule), "kind = %s", apperr.KindOf(err))
		})
	}
}

func TestNextFire_IterationRespectsPeriod(t *testing.T) {
	from := mustTime(t, "2026-03-01T00:07:00Z")

	first, err := NextFire("0 */2 * * *", "UTC", from)
	require.NoError(t, err)
	second, err := NextFire("0 */2 * * *", "UTC", first)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, second.Sub(first))
}

func TestCheckMinInterval(t *testing.T) {
	from := mustTime(t, "2026-01-15T10:03:00Z")

	tests := []struct {
		name    string
		expr    string
		min     time.Duration
		wantErr bool
	}{
		{"every five minutes rejected", "*/5 * * * *", 15 * time.Minute, true},
		{"hourly accepted", "0 */1 * * *", 15 * time.Minute, false},
		{"exactly fifteen accepted", "*/15 * * * *", 15 * time.Minute, false},
		{"every minute rejected", "* * * * *", 15 * time.Minute, true},
		{"descriptor accepted", "@hourly", 15 * time.Minute, false},
		{"every descriptor rejected", "@every 5m", 15 * time.Minute, true},
		{"every five minutes with lower minimum", "*/5 * * * *", 5 * time.Minute, false},
		{"default minimum applies", "*/10 * * * *", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckMinInterval(tt.expr, "UTC", from, tt.min)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.InvalidSchedule))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheckMinInterval_InvalidExpression(t *testing.T) {
	err := CheckMinInterval("bogus", "UTC", time.Now(), 15*time.Minute)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidSchedule))
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC.String(), loc.String())

	loc, err = LoadLocation("Europe/Paris")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())

	for _, name := range []string{"Local", "local"} {
		_, err := LoadLocation(name)
		assert.True(t, apperr.Is(err, apperr.InvalidSchedule), name)
	}
}

func TestCheckMinInterval_RejectsLocal(t *testing.T) {
	from := mustTime(t, "2026-01-15T00:00:00Z")
	err := CheckMinInterval("0 * * * *", "Local", from, 15*time.Minute)
	assert.True(t, apperr.Is(err, apperr.InvalidSchedule))
}
