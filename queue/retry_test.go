package queue_test

import (
	"testing"
	"time"

	"github.com/xraph/fanout/queue"
)

func TestRetryPolicyBackoff(t *testing.T) {
	p := queue.DefaultRetryPolicy()

	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRetryPolicySchedule(t *testing.T) {
	p := queue.RetryPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}

	got := p.Schedule()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != 100*time.Millisecond || got[1] != 200*time.Millisecond {
		t.Fatalf("schedule = %v", got)
	}

	if s := (queue.RetryPolicy{MaxAttempts: 1}).Schedule(); s != nil {
		t.Fatalf("single attempt schedule = %v, want nil", s)
	}
}

func TestJobExhausted(t *testing.T) {
	j := queue.NewJob(nil, 2)
	if j.Exhausted() {
		t.Fatal("unclaimed job should not be exhausted")
	}
	j.Attempt = 2
	if !j.Exhausted() {
		t.Fatal("job at max attempts should be exhausted")
	}
}
