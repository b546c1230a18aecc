package main

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats 压测过程中的计数
type Stats struct {
	Attempts      atomic.Int64
	Connected     atomic.Int64
	Failed        atomic.Int64
	Notifications atomic.Int64
	SessionErrors atomic.Int64
	Published     atomic.Int64
	PublishFailed atomic.Int64

	mu        sync.Mutex
	latencies []int64
	errors    map[string]int64

	StartTime time.Time
	EndTime   time.Time
}

func newStats() *Stats {
	return &Stats{errors: make(map[string]int64), StartTime: time.Now()}
}

func (s *Stats) recordConnect(d time.Duration) {
	s.Connected.Add(1)
	s.mu.Lock()
	s.latencies = append(s.latencies, int64(d))
	s.mu.Unlock()
}

func (s *Stats) recordFailure(class string) {
	s.Failed.Add(1)
	s.mu.Lock()
	s.errors[class]++
	s.mu.Unlock()
}

// LatencyStats 延迟统计（毫秒）
type LatencyStats struct {
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	Avg    float64 `json:"avg_ms"`
	P50    float64 `json:"p50_ms"`
	P90    float64 `json:"p90_ms"`
	P95    float64 `json:"p95_ms"`
	P99    float64 `json:"p99_ms"`
	StdDev float64 `json:"stddev_ms"`
}

// Result 压测结果
type Result struct {
	Target        string           `json:"target"`
	Sessions      int              `json:"sessions"`
	Attempts      int64            `json:"attempts"`
	Connected     int64            `json:"connected"`
	Failed        int64            `json:"failed"`
	SuccessRate   float64          `json:"success_rate"`
	Notifications int64            `json:"notifications"`
	SessionErrors int64            `json:"session_errors"`
	Published     int64            `json:"published"`
	PublishFailed int64            `json:"publish_failed"`
	ConnectTime   LatencyStats     `json:"connect_latency"`
	Errors        map[string]int64 `json:"errors,omitempty"`
	ActualTime    float64          `json:"actual_time_seconds"`
}

func (s *Stats) result(target string, sessions int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Result{
		Target:        target,
		Sessions:      sessions,
		Attempts:      s.Attempts.Load(),
		Connected:     s.Connected.Load(),
		Failed:        s.Failed.Load(),
		Notifications: s.Notifications.Load(),
		SessionErrors: s.SessionErrors.Load(),
		Published:     s.Published.Load(),
		PublishFailed: s.PublishFailed.Load(),
		ConnectTime:   calculateLatencyStats(s.latencies),
		Errors:        make(map[string]int64, len(s.errors)),
		ActualTime:    s.EndTime.Sub(s.StartTime).Seconds(),
	}
	for k, v := range s.errors {
		r.Errors[k] = v
	}
	if r.Attempts > 0 {
		r.SuccessRate = float64(r.Connected) / float64(r.Attempts) * 100
	}
	return r
}

func calculateLatencyStats(latencies []int64) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}

	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	toMs := func(ns float64) float64 { return ns / 1e6 }
	at := func(p int) float64 { return toMs(float64(sorted[len(sorted)*p/100])) }

	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	avg := sum / float64(len(sorted))

	var variance float64
	for _, v := range sorted {
		diff := float64(v) - avg
		variance += diff * diff
	}
	variance /= float64(len(sorted))

	return LatencyStats{
		Min:    toMs(float64(sorted[0])),
		Max:    toMs(float64(sorted[len(sorted)-1])),
		Avg:    toMs(avg),
		P50:    at(50),
		P90:    at(90),
		P95:    at(95),
		P99:    at(99),
		StdDev: toMs(math.Sqrt(variance)),
	}
}
