package engine

import (
	"testing"

	"github.com/docker/docker/api/types/container"
)

func TestMemoryBytes(t *testing.T) {
	cases := map[string]int64{
		"4g": 4 << 30,
		"512m": 512 << 20,
		"2048k": 2048 << 10,
		"":    0,
		"bad": 0,
	}
	for in, want := range cases {
		if got := memoryBytes(in); got != want {
			t.Fatalf("memoryBytes(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestPidsLimitPtr(t *testing.T) {
	if pidsLimitPtr(0) != nil {
		t.Fatalf("expected nil for zero pids limit")
	}
	p := pidsLimitPtr(100)
	if p == nil || *p != 100 {
		t.Fatalf("expected pointer to 100, got %v", p)
	}
}

func TestCPUPercentFromZeroDeltaIsZero(t *testing.T) {
	var s container.StatsResponse
	if got := cpuPercentFrom(s); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
}

func TestCPUPercentFromComputesRatio(t *testing.T) {
	var s container.StatsResponse
	s.CPUStats.CPUUsage.TotalUsage = 200
	s.PreCPUStats.CPUUsage.TotalUsage = 100
	s.CPUStats.SystemUsage = 1000
	s.PreCPUStats.SystemUsage = 0
	s.CPUStats.OnlineCPUs = 2
	got := cpuPercentFrom(s)
	want := (100.0 / 1000.0) * 2 * 100.0
	if got != want {
		t.Fatalf("got %f want %f", got, want)
	}
}
