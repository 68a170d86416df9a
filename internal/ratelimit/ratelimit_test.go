package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestAdmit_WithinLimitIsImmediate(t *testing.T) {
	l := New(2, time.Second)

	start := time.Now()
	l.Admit()
	l.Admit()
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("admissions within limit should not block, took %v", d)
	}
}

func TestAdmit_BlocksWhenLimitExceeded(t *testing.T) {
	l := New(2, 200*time.Millisecond)

	start := time.Now()
	l.Admit()
	l.Admit()
	l.Admit() // third must wait for the first to age out
	if d := time.Since(start); d < 200*time.Millisecond {
		t.Errorf("third admission should wait the full window, took %v", d)
	}
}

func TestAdmit_SlidingWindow(t *testing.T) {
	l := New(2, 200*time.Millisecond)

	l.Admit()
	l.Admit()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	l.Admit()
	d := time.Since(start)
	if d < 50*time.Millisecond || d > 180*time.Millisecond {
		t.Errorf("expected wait for the remaining half window, got %v", d)
	}
}

func TestAdmit_CountBoundHolds(t *testing.T) {
	// Replace the clock so the bound can be checked without real sleeping.
	now := time.Unix(0, 0)
	l := New(3, time.Second)
	l.now = func() time.Time { return now }
	l.sleep = func(d time.Duration) { now = now.Add(d) }

	var admitted []time.Time
	for i := 0; i < 10; i++ {
		l.Admit()
		admitted = append(admitted, now)
		now = now.Add(10 * time.Millisecond)
	}

	for i := range admitted {
		count := 0
		for j := range admitted {
			diff := admitted[i].Sub(admitted[j])
			if diff >= 0 && diff < time.Second {
				count++
			}
		}
		if count > 3 {
			t.Fatalf("window ending at admission %d holds %d admissions, max 3", i, count)
		}
	}
}

func TestReconfigure_ClearsHistory(t *testing.T) {
	l := New(1, time.Minute)
	l.Admit()

	l.Reconfigure(1, time.Minute)

	start := time.Now()
	l.Admit() // would block for ~1m if history survived
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("admission after reconfigure should be immediate, took %v", d)
	}
}

func TestAdmit_Concurrent(t *testing.T) {
	l := New(5, 100*time.Millisecond)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Admit()
		}()
	}
	wg.Wait()
	if d := time.Since(start); d < 100*time.Millisecond {
		t.Errorf("10 admissions at 5/100ms should span at least one window, took %v", d)
	}
}
