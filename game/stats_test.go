package game

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStats(t *testing.T) {
	s := NewStats()
	s.RecordExecution("weather.rain", time.Millisecond, nil)
	s.RecordExecution("weather.rain", 3*time.Millisecond, nil)
	s.RecordExecution("shop.buy", 10*time.Millisecond, nil)
	s.RecordExecution("shop.buy", time.Millisecond, errors.New(strings.Repeat("x", 200)))
	s.RecordError("intro", errors.New("missing object"))

	top := s.Top(0)
	sources := []string{}
	for _, snap := range top {
		sources = append(sources, snap.Source)
	}
	if diff := cmp.Diff(sources, []string{"shop.buy", "weather.rain", "intro"}); diff != "" {
		t.Errorf("top: %v", diff)
	}
	rain := top[1]
	if rain.Executions != 2 || rain.AvgTime != 2*time.Millisecond || rain.MinTime != time.Millisecond || rain.MaxTime != 3*time.Millisecond {
		t.Errorf("got %+v, want 2 runs averaging 2ms", rain)
	}
	if top[0].SlowCount != 1 || top[0].Errors != 1 || len(top[0].LastError) != maxErrorMessageLength+3 {
		t.Errorf("got %+v, want one slow run and a truncated error", top[0])
	}
	if len(s.Top(1)) != 1 {
		t.Errorf("Top(1) returned %v", s.Top(1))
	}

	recent := s.RecentErrors(10)
	if len(recent) != 2 || recent[0].Source != "intro" || recent[1].Source != "shop.buy" {
		t.Errorf("got %+v, want the errors newest first", recent)
	}
	if all := s.RecentRecords(10, nil); len(all) != 3 {
		t.Errorf("got %v records, want the slow run and both errors", len(all))
	}

	now := time.Now()
	s.UpdateRates(now)
	s.RecordExecution("weather.rain", time.Millisecond, nil)
	s.UpdateRates(now.Add(time.Second))
	for _, snap := range s.Top(0) {
		if snap.Source == "weather.rain" && snap.ExecRate <= 0 {
			t.Errorf("got rate %v, want a positive rate", snap.ExecRate)
		}
	}

	s.Reset()
	if len(s.Top(0)) != 0 || len(s.RecentRecords(10, nil)) != 0 {
		t.Errorf("Reset left statistics")
	}
}
