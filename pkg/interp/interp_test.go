package interp

import (
	"testing"
	"time"

	"github.com/vango-dev/tablesync/pkg/state"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestInterpolator_Ramp(t *testing.T) {
	ip := New(LerpFloat, 100*time.Millisecond, 0)
	ip.Retarget(10, t0)

	tests := []struct {
		at   time.Duration
		want float64
	}{
		{0, 0},
		{25 * time.Millisecond, 2.5},
		{50 * time.Millisecond, 5},
		{99 * time.Millisecond, 9.9},
		{100 * time.Millisecond, 10},
		{time.Second, 10},
	}
	for _, tt := range tests {
		got := ip.Value(t0.Add(tt.at))
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("at %v: expected %v, got %v", tt.at, tt.want, got)
		}
	}
	if !ip.Done(t0.Add(100 * time.Millisecond)) {
		t.Error("expected ramp to be done at the end of the window")
	}
}

func TestInterpolator_EndsExactlyAtTarget(t *testing.T) {
	// A lerp that never quite reaches its target.
	lossy := func(from, to float64, amount float64) float64 {
		return LerpFloat(from, to, amount*0.999)
	}
	ip := New(lossy, 10*time.Millisecond, 1)
	ip.Retarget(1.0/3, t0)
	if got := ip.Value(t0.Add(10 * time.Millisecond)); got != 1.0/3 {
		t.Errorf("expected exact target, got %v", got)
	}
}

func TestInterpolator_RetargetDuringRamp(t *testing.T) {
	ip := New(LerpFloat, 100*time.Millisecond, 0)
	ip.Retarget(10, t0)
	ip.Value(t0.Add(50 * time.Millisecond))

	// The new ramp starts from the interrupted ramp's target.
	ip.Retarget(20, t0.Add(50*time.Millisecond))
	if got := ip.Value(t0.Add(50 * time.Millisecond)); got != 10 {
		t.Errorf("expected new ramp to start at 10, got %v", got)
	}
	if got := ip.Value(t0.Add(100 * time.Millisecond)); got != 15 {
		t.Errorf("expected 15 halfway through the new ramp, got %v", got)
	}
	if got := ip.Value(t0.Add(150 * time.Millisecond)); got != 20 {
		t.Errorf("expected 20 at the end, got %v", got)
	}
}

func TestInterpolator_SetPins(t *testing.T) {
	ip := New(LerpFloat, 100*time.Millisecond, 0)
	ip.Retarget(10, t0)
	ip.Set(3)
	if !ip.Done(t0) {
		t.Error("Set should stop the ramp")
	}
	if got := ip.Value(t0.Add(10 * time.Millisecond)); got != 3 {
		t.Errorf("expected 3, got %v", got)
	}
}

func TestInterpolator_ZeroWindowSnaps(t *testing.T) {
	ip := New(LerpFloat, 0, 0)
	ip.Retarget(5, t0)
	if got := ip.Value(t0); got != 5 {
		t.Errorf("expected 5, got %v", got)
	}
}

func TestLerpPoint(t *testing.T) {
	got := LerpPoint(state.Point{X: 0, Y: 10}, state.Point{X: 10, Y: 0}, 0.5)
	if got != (state.Point{X: 5, Y: 5}) {
		t.Errorf("expected (5,5), got %+v", got)
	}
}

func TestWatcher_Observe(t *testing.T) {
	const window = 100 * time.Millisecond
	settings := func(s state.State) state.Point {
		m, _ := s.Maps.Get(state.DefaultMapID)
		return m.Settings.GMWorldPosition
	}
	moved := func(p state.Point) state.State {
		s := state.Initial()
		m, _ := s.Maps.Get(state.DefaultMapID)
		m.Settings.GMWorldPosition = p
		return s.WithMaps(state.CollectionOf(m))
	}

	w := NewWatcher(settings, LerpPoint, window, state.Initial())
	if w.Observe(state.Initial(), t0) {
		t.Error("unchanged value should not start a ramp")
	}

	if !w.Observe(moved(state.Point{X: 100}), t0) {
		t.Fatal("changed value should start a ramp")
	}
	if got := w.Value(t0.Add(window / 2)); got != (state.Point{X: 50}) {
		t.Errorf("expected halfway point, got %+v", got)
	}
	if got := w.Value(t0.Add(window)); got != (state.Point{X: 100}) {
		t.Errorf("expected target, got %+v", got)
	}
	if !w.Done(t0.Add(window)) {
		t.Error("expected watcher to settle")
	}
}
