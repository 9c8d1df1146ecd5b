package kvstore

import (
	"testing"
	"time"
)

func TestTTLSchedulerExpiredOrdersByDeadline(t *testing.T) {
	sched := NewTTLScheduler()
	base := time.Now()

	sched.Schedule("late", 5000, base)
	sched.Schedule("early", 1000, base)
	sched.Schedule("mid", 3000, base)

	expired := sched.Expired(base.Add(4 * time.Second))
	if len(expired) != 2 {
		t.Fatalf("expected two keys expired by +4s, got %v", expired)
	}
	if expired[0] != "early" || expired[1] != "mid" {
		t.Fatalf("expected expiry in deadline order, got %v", expired)
	}
	if sched.Len() != 1 {
		t.Fatalf("expected one key (late) to remain scheduled, got %d", sched.Len())
	}
}

func TestTTLSchedulerInfiniteNeverExpires(t *testing.T) {
	sched := NewTTLScheduler()
	base := time.Now()
	sched.Schedule("forever", InfinityTTL, base)

	expired := sched.Expired(base.Add(365 * 24 * time.Hour))
	if len(expired) != 0 {
		t.Fatalf("expected an infinite-ttl key to never expire, got %v", expired)
	}
}

func TestTTLSchedulerRescheduleReplacesDeadline(t *testing.T) {
	sched := NewTTLScheduler()
	base := time.Now()

	sched.Schedule("k", 1000, base)
	sched.Schedule("k", 10000, base) // refresh before expiry

	expired := sched.Expired(base.Add(2 * time.Second))
	if len(expired) != 0 {
		t.Fatalf("expected the refreshed deadline to push expiry out, got %v", expired)
	}
	if sched.Len() != 1 {
		t.Fatalf("expected exactly one tracked key after reschedule, got %d", sched.Len())
	}
}

func TestTTLSchedulerCancel(t *testing.T) {
	sched := NewTTLScheduler()
	base := time.Now()
	sched.Schedule("k", 1000, base)
	sched.Cancel("k")

	if sched.Len() != 0 {
		t.Fatalf("expected cancel to remove the key entirely")
	}
}

func TestTTLSchedulerNextDeadline(t *testing.T) {
	sched := NewTTLScheduler()
	base := time.Now()
	sched.Schedule("forever", InfinityTTL, base)
	sched.Schedule("soon", 1000, base)
	sched.Schedule("later", 5000, base)

	next, ok := sched.NextDeadline()
	if !ok {
		t.Fatalf("expected a finite next deadline to exist")
	}
	want := base.Add(1000 * time.Millisecond)
	if next.Before(want.Add(-time.Millisecond)) || next.After(want.Add(time.Millisecond)) {
		t.Fatalf("expected the next deadline to be the soonest finite one, got %v want ~%v", next, want)
	}
}

func TestEgressValueTTLCountdown(t *testing.T) {
	base := time.Now()
	v := mkValue(1, "n", "v", 10000, 1)

	adjusted, keep := egressValue(v, base, base.Add(2*time.Second))
	if !keep {
		t.Fatalf("expected the value to survive the countdown adjustment")
	}
	if adjusted.TTLMs >= v.TTLMs {
		t.Fatalf("expected ttl_ms to decrease on egress, got %d from %d", adjusted.TTLMs, v.TTLMs)
	}
}

func TestEgressValueBelowFloorIsDropped(t *testing.T) {
	base := time.Now()
	v := mkValue(1, "n", "v", 100, 1)

	_, keep := egressValue(v, base, base.Add(10*time.Second))
	if keep {
		t.Fatalf("expected a value whose countdown fell below the floor to be dropped")
	}
}

func TestEgressValueInfinityNeverDecrements(t *testing.T) {
	base := time.Now()
	v := mkValue(1, "n", "v", InfinityTTL, 1)

	adjusted, keep := egressValue(v, base, base.Add(24*time.Hour))
	if !keep || adjusted.TTLMs != InfinityTTL {
		t.Fatalf("expected the infinity sentinel to pass through unchanged")
	}
}
