package concurrency

import "testing"

func TestEffectiveBands(t *testing.T) {
	cases := []struct {
		name   string
		sample Sample
		base   int
		cap    int
		want   int
	}{
		{"memory_high_floors_regardless_of_cpu", Sample{CPUBusyPercent: 5, Memory: MemoryHigh}, 4, 8, 1},
		{"cpu_over_85_floors", Sample{CPUBusyPercent: 90, Memory: MemoryLow}, 4, 8, 1},
		{"cpu_70_to_85_halves", Sample{CPUBusyPercent: 75, Memory: MemoryLow}, 4, 8, 2},
		{"cpu_40_to_70_base", Sample{CPUBusyPercent: 55, Memory: MemoryLow}, 4, 8, 4},
		{"cpu_under_40_doubles_capped", Sample{CPUBusyPercent: 20, Memory: MemoryLow}, 4, 6, 6},
		{"cpu_under_40_doubles_uncapped", Sample{CPUBusyPercent: 20, Memory: MemoryLow}, 3, 10, 6},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Effective(c.sample, c.base, c.cap); got != c.want {
				t.Fatalf("Effective() = %d, want %d", got, c.want)
			}
		})
	}
}

func TestHasRoom(t *testing.T) {
	sample := Sample{CPUBusyPercent: 20, Memory: MemoryLow}
	if !HasRoom(sample, 2, 8, 3) {
		t.Fatal("expected room: effective=4, running=3")
	}
	if HasRoom(sample, 2, 8, 4) {
		t.Fatal("expected no room: effective=4, running=4")
	}
}
