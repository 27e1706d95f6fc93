package health

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want State
	}{
		{
			name: "dead when not running",
			in:   Input{Running: false, LastHeartbeat: base, Timeout: time.Minute, Now: base},
			want: Dead,
		},
		{
			name: "dead wins over hung",
			in: Input{Running: false, MTime: base.Add(-time.Hour), HasMTime: true,
				LastHeartbeat: base, Timeout: time.Minute, Now: base},
			want: Dead,
		},
		{
			name: "cold start never hung",
			in:   Input{Running: true, LastHeartbeat: base.Add(-time.Hour), Timeout: time.Minute, Now: base},
			want: Healthy,
		},
		{
			name: "stale log is hung",
			in: Input{Running: true, MTime: base.Add(-10 * time.Minute), HasMTime: true,
				LastHeartbeat: base.Add(-time.Hour), Timeout: time.Minute, Now: base},
			want: Hung,
		},
		{
			name: "fresh log is healthy",
			in: Input{Running: true, MTime: base.Add(-10 * time.Second), HasMTime: true,
				LastHeartbeat: base.Add(-time.Hour), Timeout: time.Minute, Now: base},
			want: Healthy,
		},
		{
			name: "seen earlier, log gone, silence exceeds timeout",
			in: Input{Running: true, LastHeartbeat: base.Add(-2 * time.Minute), HeartbeatSeen: true,
				Timeout: time.Minute, Now: base},
			want: Hung,
		},
		{
			name: "exactly at timeout is healthy",
			in: Input{Running: true, MTime: base.Add(-time.Minute), HasMTime: true,
				Timeout: time.Minute, Now: base},
			want: Healthy,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.in).State)
		})
	}
}

func TestClassifyAdvancesHeartbeat(t *testing.T) {
	mt := base.Add(-5 * time.Second)
	res := Classify(Input{Running: true, MTime: mt, HasMTime: true, LastHeartbeat: base.Add(-time.Hour), Timeout: time.Minute, Now: base})
	assert.True(t, res.LastHeartbeat.Equal(mt))
	assert.True(t, res.HeartbeatSeen)
	assert.Equal(t, 5*time.Second, res.Elapsed)

	// a stale log does not move the baseline backwards, but still counts as seen
	restartedAt := base.Add(-10 * time.Second)
	res = Classify(Input{Running: true, MTime: base.Add(-time.Hour), HasMTime: true,
		LastHeartbeat: restartedAt, Timeout: time.Minute, Now: base})
	assert.True(t, res.LastHeartbeat.Equal(restartedAt))
	assert.True(t, res.HeartbeatSeen)
	assert.Equal(t, Healthy, res.State)

	res = Classify(Input{Running: true, LastHeartbeat: base, Timeout: time.Minute, Now: base})
	assert.False(t, res.HeartbeatSeen)
	assert.True(t, res.LastHeartbeat.Equal(base))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "dead", Dead.String())
	assert.Equal(t, "hung", Hung.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.False(t, Healthy.Unhealthy())
	assert.True(t, Dead.Unhealthy())
	assert.True(t, Hung.Unhealthy())

	var st State
	assert.NoError(t, st.UnmarshalText([]byte("hung")))
	assert.Equal(t, Hung, st)
	assert.Error(t, st.UnmarshalText([]byte("sleepy")))
}

func TestProperty_Classify(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("not running is always dead", prop.ForAll(
		func(ageSec int64, seen bool, hasMTime bool) bool {
			in := Input{
				Running:       false,
				MTime:         base.Add(-time.Duration(ageSec) * time.Second),
				HasMTime:      hasMTime,
				LastHeartbeat: base.Add(-time.Duration(ageSec) * time.Second),
				HeartbeatSeen: seen,
				Timeout:       time.Minute,
				Now:           base,
			}
			return Classify(in).State == Dead
		},
		gen.Int64Range(0, 86400),
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("running without any heartbeat is never hung", prop.ForAll(
		func(ageSec int64, timeoutSec int64) bool {
			in := Input{
				Running:       true,
				LastHeartbeat: base.Add(-time.Duration(ageSec) * time.Second),
				Timeout:       time.Duration(timeoutSec) * time.Second,
				Now:           base,
			}
			return Classify(in).State == Healthy
		},
		gen.Int64Range(0, 86400),
		gen.Int64Range(0, 3600),
	))

	properties.Property("running with mtime is hung iff silence exceeds timeout", prop.ForAll(
		func(ageSec int64, timeoutSec int64) bool {
			in := Input{
				Running:       true,
				MTime:         base.Add(-time.Duration(ageSec) * time.Second),
				HasMTime:      true,
				LastHeartbeat: base.Add(-48 * time.Hour),
				Timeout:       time.Duration(timeoutSec) * time.Second,
				Now:           base,
			}
			got := Classify(in).State
			if ageSec > timeoutSec {
				return got == Hung
			}
			return got == Healthy
		},
		gen.Int64Range(0, 86400),
		gen.Int64Range(0, 3600),
	))

	properties.TestingRun(t)
}
