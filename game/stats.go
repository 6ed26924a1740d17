package game

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// slowThreshold marks plugin commands slow enough to hurt the frame rate.
	slowThreshold = 5 * time.Millisecond
	// maxRecords is the number of recent errors and slow executions kept.
	maxRecords            = 100
	maxErrorMessageLength = 128
)

// ExecutionRecord captures a failed or slow execution for debugging.
type ExecutionRecord struct {
	Timestamp time.Time
	// Source is "plugin.command" for plugin commands and the reaction name for reactions.
	Source   string
	Duration time.Duration
	IsError  bool
	Message  string
}

// RateStats tracks the EMA of event counts per second.
type RateStats struct {
	SecondRate float64
	MinuteRate float64
	HourRate   float64
	lastUpdate time.Time
}

// update applies count events since the last update.
func (r *RateStats) update(now time.Time, count uint64) {
	if r.lastUpdate.IsZero() {
		r.lastUpdate = now
		return
	}
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed <= 0 {
		return
	}
	instantRate := float64(count) / elapsed

	// alpha = 1 - exp(-elapsed/window) handles variable update intervals.
	alphaSecond := 1 - math.Exp(-elapsed/1.0)
	alphaMinute := 1 - math.Exp(-elapsed/60.0)
	alphaHour := 1 - math.Exp(-elapsed/3600.0)

	r.SecondRate = alphaSecond*instantRate + (1-alphaSecond)*r.SecondRate
	r.MinuteRate = alphaMinute*instantRate + (1-alphaMinute)*r.MinuteRate
	r.HourRate = alphaHour*instantRate + (1-alphaHour)*r.HourRate
	r.lastUpdate = now
}

// SourceStats tracks executions and errors of one plugin command or reaction.
type SourceStats struct {
	Executions uint64
	TotalTime  time.Duration
	MinTime    time.Duration
	MaxTime    time.Duration
	SlowCount  uint64
	Errors     uint64
	LastError  string

	execRate  RateStats
	prevExecs uint64
}

// SourceSnapshot is a copy of SourceStats for listings.
type SourceSnapshot struct {
	Source     string
	Executions uint64
	AvgTime    time.Duration
	MinTime    time.Duration
	MaxTime    time.Duration
	SlowCount  uint64
	Errors     uint64
	LastError  string
	ExecRate   float64
}

// Stats collects execution statistics of plugin commands and reactions.
type Stats struct {
	mu      sync.Mutex
	sources map[string]*SourceStats
	records []ExecutionRecord
}

func NewStats() *Stats {
	return &Stats{
		sources: map[string]*SourceStats{},
	}
}

func truncate(msg string) string {
	if len(msg) > maxErrorMessageLength {
		return msg[:maxErrorMessageLength] + "..."
	}
	return msg
}

func (s *Stats) source(name string) *SourceStats {
	src, found := s.sources[name]
	if !found {
		src = &SourceStats{}
		s.sources[name] = src
	}
	return src
}

func (s *Stats) record(r ExecutionRecord) {
	s.records = append(s.records, r)
	if len(s.records) > maxRecords {
		s.records = s.records[len(s.records)-maxRecords:]
	}
}

// RecordExecution records a run of source taking duration, failing if err is set.
func (s *Stats) RecordExecution(source string, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.source(source)
	if src.Executions == 0 || duration < src.MinTime {
		src.MinTime = duration
	}
	if duration > src.MaxTime {
		src.MaxTime = duration
	}
	src.Executions++
	src.TotalTime += duration
	rec := ExecutionRecord{
		Timestamp: time.Now(),
		Source:    source,
		Duration:  duration,
	}
	if err != nil {
		src.Errors++
		src.LastError = truncate(err.Error())
		rec.IsError = true
		rec.Message = src.LastError
		s.record(rec)
	} else if duration > slowThreshold {
		src.SlowCount++
		s.record(rec)
	}
}

// RecordError records a failure that didn't run to completion, like a failing reaction.
func (s *Stats) RecordError(source string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.source(source)
	src.Errors++
	src.LastError = truncate(err.Error())
	s.record(ExecutionRecord{
		Timestamp: time.Now(),
		Source:    source,
		IsError:   true,
		Message:   src.LastError,
	})
}

// UpdateRates feeds the executions since the last call into the rate EMAs.
func (s *Stats) UpdateRates(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		src.execRate.update(now, src.Executions-src.prevExecs)
		src.prevExecs = src.Executions
	}
}

// Top returns the n sources with the most time spent, or all if n <= 0.
func (s *Stats) Top(n int) []SourceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]SourceSnapshot, 0, len(s.sources))
	for name, src := range s.sources {
		snap := SourceSnapshot{
			Source:     name,
			Executions: src.Executions,
			MinTime:    src.MinTime,
			MaxTime:    src.MaxTime,
			SlowCount:  src.SlowCount,
			Errors:     src.Errors,
			LastError:  src.LastError,
			ExecRate:   src.execRate.SecondRate,
		}
		if src.Executions > 0 {
			snap.AvgTime = src.TotalTime / time.Duration(src.Executions)
		}
		result = append(result, snap)
	}
	slices.SortFunc(result, func(a, b SourceSnapshot) int {
		ta := a.AvgTime * time.Duration(a.Executions)
		tb := b.AvgTime * time.Duration(b.Executions)
		if ta != tb {
			if ta > tb {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Source, b.Source)
	})
	if n > 0 && len(result) > n {
		result = result[:n]
	}
	return result
}

// RecentRecords returns up to n records matching filter, newest first.
func (s *Stats) RecentRecords(n int, filter func(*ExecutionRecord) bool) []ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []ExecutionRecord{}
	for i := len(s.records) - 1; i >= 0 && len(result) < n; i-- {
		if filter == nil || filter(&s.records[i]) {
			result = append(result, s.records[i])
		}
	}
	return result
}

func (s *Stats) RecentErrors(n int) []ExecutionRecord {
	return s.RecentRecords(n, func(r *ExecutionRecord) bool {
		return r.IsError
	})
}

func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = map[string]*SourceStats{}
	s.records = nil
}
