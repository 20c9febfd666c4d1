package deadband

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisSpark/internal/domain"
)

func newFilter(t *testing.T, tags ...domain.Tag) *Filter {
	t.Helper()
	f, err := NewFilter(tags...)
	require.NoError(t, err)
	return f
}

func TestFlowRateScenario(t *testing.T) {
	f := newFilter(t, domain.Tag{ID: "flow_rate", Type: domain.DataTypeDouble, Deadband: 0.5})

	readings := []float64{10.0, 10.2, 10.6, 9.9}
	want := []bool{true, false, true, true}

	accepted := 0
	ts := time.Unix(0, 0)
	for i, v := range readings {
		ok, err := f.ShouldPublish("flow_rate", domain.NumberValue(v), ts.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equalf(t, want[i], ok, "reading %v", v)
		if ok {
			accepted++
		}
	}
	assert.Equal(t, 3, accepted)

	last, _, seen, err := f.Last("flow_rate")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, 9.9, last.Number)
}

func TestNumericBoundaryIsInclusive(t *testing.T) {
	f := newFilter(t, domain.Tag{ID: "temp", Type: domain.DataTypeDouble, Deadband: 2})
	now := time.Now()

	ok, err := f.ShouldPublish("temp", domain.NumberValue(10), now)
	require.NoError(t, err)
	require.True(t, ok, "first sample is always accepted")

	ok, _ = f.ShouldPublish("temp", domain.NumberValue(11.999), now)
	assert.False(t, ok, "change below threshold must be suppressed")

	ok, _ = f.ShouldPublish("temp", domain.NumberValue(12), now)
	assert.True(t, ok, "change equal to threshold must be sent")

	ok, _ = f.ShouldPublish("temp", domain.NumberValue(10), now)
	assert.True(t, ok, "negative change equal to threshold must be sent")
}

func TestNaNBaselineDoesNotLatch(t *testing.T) {
	f := newFilter(t, domain.Tag{ID: "temp", Type: domain.DataTypeDouble, Deadband: 0.5})
	now := time.Now()
	nan := math.NaN()

	samples := []struct {
		v    float64
		want bool
	}{
		{nan, true},
		{nan, false},
		{10, true},
		{10.2, false},
		{50, true},
		{nan, true},
		{50, true},
	}
	for i, s := range samples {
		ok, err := f.ShouldPublish("temp", domain.NumberValue(s.v), now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equalf(t, s.want, ok, "sample %d (%v)", i, s.v)
	}

	last, _, _, err := f.Last("temp")
	require.NoError(t, err)
	assert.Equal(t, 50.0, last.Number)
}

func TestSuppressionDoesNotMoveBaseline(t *testing.T) {
	f := newFilter(t, domain.Tag{ID: "p", Type: domain.DataTypeDouble, Deadband: 1})
	first := time.Unix(100, 0)

	_, _ = f.ShouldPublish("p", domain.NumberValue(5), first)
	// Creeping by 0.6 twice: the second step is 1.2 away from the baseline.
	ok, _ := f.ShouldPublish("p", domain.NumberValue(5.6), first.Add(time.Second))
	assert.False(t, ok)

	last, lastAt, _, _ := f.Last("p")
	assert.Equal(t, 5.0, last.Number)
	assert.Equal(t, first, lastAt)

	ok, _ = f.ShouldPublish("p", domain.NumberValue(6.2), first.Add(2*time.Second))
	assert.True(t, ok)
}

func TestZeroThresholdAlwaysAccepts(t *testing.T) {
	f := newFilter(t, domain.Tag{ID: "raw", Type: domain.DataTypeInt32})
	for i := 0; i < 3; i++ {
		ok, err := f.ShouldPublish("raw", domain.NumberValue(1), time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestDiscreteTags(t *testing.T) {
	f := newFilter(t,
		domain.Tag{ID: "running", Type: domain.DataTypeBoolean, Deadband: 5},
		domain.Tag{ID: "mode", Type: domain.DataTypeString},
	)
	now := time.Now()

	cases := []struct {
		tag  string
		v    domain.Value
		want bool
	}{
		{"running", domain.BoolValue(true), true},
		{"running", domain.BoolValue(true), false},
		{"running", domain.BoolValue(false), true},
		{"mode", domain.StringValue("auto"), true},
		{"mode", domain.StringValue("auto"), false},
		{"mode", domain.StringValue("manual"), true},
	}
	for _, tc := range cases {
		ok, err := f.ShouldPublish(tc.tag, tc.v, now)
		require.NoError(t, err)
		assert.Equalf(t, tc.want, ok, "%s=%s", tc.tag, tc.v)
	}
}

func TestUnknownTag(t *testing.T) {
	f := newFilter(t, domain.Tag{ID: "known", Type: domain.DataTypeDouble})

	ok, err := f.ShouldPublish("ghost", domain.NumberValue(1), time.Now())
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownTag))

	var ute *domain.UnknownTagError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "ghost", ute.TagID)

	_, _, seen, err := f.Last("known")
	require.NoError(t, err)
	assert.False(t, seen, "unknown tag lookup must not touch other state")
}

func TestTypeMismatchLeavesStateUntouched(t *testing.T) {
	f := newFilter(t, domain.Tag{ID: "level", Type: domain.DataTypeDouble})
	_, err := f.ShouldPublish("level", domain.BoolValue(true), time.Now())
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)

	_, _, seen, _ := f.Last("level")
	assert.False(t, seen)
}

func TestRegisterRejectsInvalidTags(t *testing.T) {
	_, err := NewFilter(domain.Tag{ID: "neg", Type: domain.DataTypeDouble, Deadband: -1})
	assert.Error(t, err)

	_, err = NewFilter(domain.Tag{Type: domain.DataTypeDouble})
	assert.Error(t, err)
}

func TestResetForcesNextPublish(t *testing.T) {
	f := newFilter(t, domain.Tag{ID: "x", Type: domain.DataTypeDouble, Deadband: 100})
	_, _ = f.ShouldPublish("x", domain.NumberValue(1), time.Now())
	ok, _ := f.ShouldPublish("x", domain.NumberValue(2), time.Now())
	require.False(t, ok)

	f.Reset()
	ok, _ = f.ShouldPublish("x", domain.NumberValue(2), time.Now())
	assert.True(t, ok)
}

func TestConcurrentSamplesOfSameTagAreSerialized(t *testing.T) {
	f := newFilter(t, domain.Tag{ID: "shared", Type: domain.DataTypeDouble, Deadband: 1000})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := f.ShouldPublish("shared", domain.NumberValue(float64(i)), time.Now())
			if err == nil && ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	// All values lie within the deadband of whichever sample won the race.
	assert.Equal(t, 1, accepted)
}

func TestSnapshotIsSortedByID(t *testing.T) {
	f := newFilter(t,
		domain.Tag{ID: "b", Type: domain.DataTypeDouble},
		domain.Tag{ID: "a", Type: domain.DataTypeBoolean},
	)
	_, _ = f.ShouldPublish("a", domain.BoolValue(true), time.Now())

	snap := f.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Tag.ID)
	assert.True(t, snap[0].Seen)
	assert.False(t, snap[1].Seen)
}
