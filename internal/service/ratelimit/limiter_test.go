package ratelimit

import (
	"testing"
	"time"
)

func TestAllowEnforcesInterval(t *testing.T) {
	l := New(time.Second)
	clock := time.Unix(0, 0)
	l.now = func() time.Time { return clock }

	if !l.Allow("BTC-USDT") {
		t.Fatalf("first event must pass")
	}
	if l.Allow("BTC-USDT") {
		t.Fatalf("second event within the interval must be blocked")
	}

	clock = clock.Add(400 * time.Millisecond)
	if l.Allow("BTC-USDT") {
		t.Fatalf("partial refill must not pass")
	}

	clock = clock.Add(700 * time.Millisecond)
	if !l.Allow("BTC-USDT") {
		t.Fatalf("expected pass after full interval")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(time.Second)
	clock := time.Unix(0, 0)
	l.now = func() time.Time { return clock }

	if !l.Allow("BTC-USDT") || !l.Allow("ETH-USDT") {
		t.Fatalf("distinct keys must not share a bucket")
	}
}

func TestForgetResetsKey(t *testing.T) {
	l := New(time.Second)
	clock := time.Unix(0, 0)
	l.now = func() time.Time { return clock }

	l.Allow("BTC-USDT")
	l.Forget("BTC-USDT")
	if !l.Allow("BTC-USDT") {
		t.Fatalf("expected fresh bucket after forget")
	}
}
