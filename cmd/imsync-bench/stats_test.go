package main

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestCalculateLatencyStats(t *testing.T) {
	var latencies []int64
	for i := 1; i <= 100; i += 1 {
		latencies = append(latencies, int64(time.Duration(i)*time.Millisecond))
	}

	s := calculateLatencyStats(latencies)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
	assert.Equal(t, 50.5, s.Avg)
	assert.Equal(t, 51.0, s.P50)
	assert.Equal(t, 91.0, s.P90)
	assert.Equal(t, 100.0, s.P99)
}

func TestCalculateLatencyStatsEmpty(t *testing.T) {
	assert.Equal(t, LatencyStats{}, calculateLatencyStats(nil))
}

func TestStatsResult(t *testing.T) {
	s := newStats()
	s.Attempts.Add(4)
	s.recordConnect(10 * time.Millisecond)
	s.recordConnect(30 * time.Millisecond)
	s.recordConnect(20 * time.Millisecond)
	s.recordFailure("transport")
	s.EndTime = s.StartTime.Add(2 * time.Second)

	r := s.result("http://localhost:8084", 4)
	assert.Equal(t, int64(3), r.Connected)
	assert.Equal(t, int64(1), r.Failed)
	assert.Equal(t, 75.0, r.SuccessRate)
	assert.Equal(t, int64(1), r.Errors["transport"])
	assert.Equal(t, 20.0, r.ConnectTime.P50)
	assert.Equal(t, 2.0, r.ActualTime)
}

func TestParseUserFile(t *testing.T) {
	users, err := parseUsers("# comment\nalice tok-a\n\nbob\n", "fallback")
	assert.Equal(t, nil, err)
	assert.Equal(t, []benchUser{{ID: "alice", Token: "tok-a"}, {ID: "bob", Token: "fallback"}}, users)

	_, err = parseUsers("a b c\n", "")
	assert.NotEqual(t, nil, err)
}
