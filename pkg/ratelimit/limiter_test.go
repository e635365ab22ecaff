package ratelimit

import (
	"testing"
	"time"
)

func TestInMemoryDefaultWindow(t *testing.T) {
	lim := NewInMemory(0)
	if lim.window != time.Minute {
		t.Fatalf("expected default 1 minute window, got %v", lim.window)
	}
}

func TestInMemoryAllowAndBlock(t *testing.T) {
	lim := NewInMemory(time.Minute)
	for i := 1; i <= 3; i++ {
		d := lim.Allow("ip:1", 3)
		if !d.Allowed {
			t.Fatalf("request %d should be allowed: %+v", i, d)
		}
		if d.Remaining != 3-i {
			t.Fatalf("wrong remaining at %d: %+v", i, d)
		}
	}
	d := lim.Allow("ip:1", 3)
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("4th request should be blocked: %+v", d)
	}
	// Independent keys do not interfere.
	if d := lim.Allow("ip:2", 3); !d.Allowed {
		t.Fatalf("fresh key blocked: %+v", d)
	}
}

func TestInMemoryWindowReset(t *testing.T) {
	lim := NewInMemory(20 * time.Millisecond)
	if d := lim.Allow("k", 1); !d.Allowed {
		t.Fatalf("first request blocked: %+v", d)
	}
	if d := lim.Allow("k", 1); d.Allowed {
		t.Fatalf("second request should be blocked: %+v", d)
	}
	time.Sleep(30 * time.Millisecond)
	if d := lim.Allow("k", 1); !d.Allowed {
		t.Fatalf("window should have reset: %+v", d)
	}
}

func TestInMemoryZeroLimitDefaultsToOne(t *testing.T) {
	lim := NewInMemory(time.Minute)
	if d := lim.Allow("k", 0); !d.Allowed || d.Limit != 1 {
		t.Fatalf("expected limit coerced to 1: %+v", d)
	}
}
