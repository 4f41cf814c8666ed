package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// newTestLimiter は固定時刻から開始するリミッターとクロック操作関数を返す。
// クリーンアップループは起動しない。
func newTestLimiter(maxAttempts int, window time.Duration) (*SlidingWindowLimiter, func(d time.Duration)) {
	l := NewSlidingWindowLimiter(Config{
		MaxAttempts: maxAttempts,
		Window:      window,
	})

	var mu sync.Mutex
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	return l, advance
}

func TestCheck_AllowsUpToMaxAttempts(t *testing.T) {
	l, _ := newTestLimiter(5, 180*time.Second)

	for i := 0; i < 5; i++ {
		if _, ok := l.Check("192.0.2.1"); !ok {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}

	retryAfter, ok := l.Check("192.0.2.1")
	if ok {
		t.Fatal("6th attempt should be rejected")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %v, want positive", retryAfter)
	}
}

func TestCheck_RejectedAttemptIsNotRecorded(t *testing.T) {
	l, advance := newTestLimiter(2, 60*time.Second)

	l.Check("k")
	advance(10 * time.Second)
	l.Check("k")

	// 拒否された試行はウィンドウに積まれない
	for i := 0; i < 10; i++ {
		if _, ok := l.Check("k"); ok {
			t.Fatal("attempt over limit should be rejected")
		}
	}

	// 最古（t=0）がウィンドウ外になれば1枠だけ空く
	advance(51 * time.Second)
	if _, ok := l.Check("k"); !ok {
		t.Error("attempt should be allowed after oldest entry expired")
	}
	if _, ok := l.Check("k"); ok {
		t.Error("window should be full again")
	}
}

func TestCheck_RetryAfterMatchesOldestEntry(t *testing.T) {
	l, advance := newTestLimiter(3, 180*time.Second)

	l.Check("k")
	advance(30 * time.Second)
	l.Check("k")
	l.Check("k")

	retryAfter, ok := l.Check("k")
	if ok {
		t.Fatal("4th attempt should be rejected")
	}
	// retry_after = window - (now - oldest) = 180 - 30 = 150
	if retryAfter != 150*time.Second {
		t.Errorf("retryAfter = %v, want %v", retryAfter, 150*time.Second)
	}
}

func TestCheck_AdmitsExactlyWhenOldestAgesOut(t *testing.T) {
	l, advance := newTestLimiter(1, 180*time.Second)

	if _, ok := l.Check("k"); !ok {
		t.Fatal("first attempt should be allowed")
	}

	// ちょうどウィンドウ長経過した時点の試行は許可される（刈り込みが判定に先行する）
	advance(180 * time.Second)
	if _, ok := l.Check("k"); !ok {
		t.Error("attempt exactly at window boundary should be allowed")
	}
}

func TestCheck_WindowSlides(t *testing.T) {
	l, advance := newTestLimiter(5, 180*time.Second)

	for i := 0; i < 5; i++ {
		if _, ok := l.Check("k"); !ok {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if _, ok := l.Check("k"); ok {
		t.Fatal("6th attempt should be rejected")
	}

	advance(181 * time.Second)
	if _, ok := l.Check("k"); !ok {
		t.Error("attempt should be allowed after window passed")
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	if _, ok := l.Check("a"); !ok {
		t.Fatal("key a should be allowed")
	}
	if _, ok := l.Check("a"); ok {
		t.Fatal("key a should be at limit")
	}
	if _, ok := l.Check("b"); !ok {
		t.Error("key b should be unaffected by key a")
	}
}

func TestReset_ClearsKeyAtLimit(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	l.Check("user@example.com")
	l.Check("user@example.com")
	if _, ok := l.Check("user@example.com"); ok {
		t.Fatal("key should be at limit")
	}

	l.Reset("user@example.com")

	if _, ok := l.Check("user@example.com"); !ok {
		t.Error("Check after Reset should be allowed")
	}
}

func TestReset_UnknownKeyIsNoop(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	l.Reset("never-seen")

	if _, ok := l.Check("never-seen"); !ok {
		t.Error("Check after Reset of unknown key should be allowed")
	}
}

func TestCleanup_RemovesEmptyBuckets(t *testing.T) {
	l, advance := newTestLimiter(5, time.Minute)

	l.Check("a")
	l.Check("b")
	l.Check("c")
	if got := l.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	// ウィンドウ内のキーは残る
	l.Cleanup()
	if got := l.Len(); got != 3 {
		t.Errorf("Len() after no-op cleanup = %d, want 3", got)
	}

	advance(61 * time.Second)
	l.Check("c") // cだけ新しい試行を持つ

	l.Cleanup()
	if got := l.Len(); got != 1 {
		t.Errorf("Len() after cleanup = %d, want 1", got)
	}

	// 除去されたキーも再度使える
	if _, ok := l.Check("a"); !ok {
		t.Error("removed key should be usable again")
	}
}

func TestCheck_ConcurrentCallersAdmitExactlyMax(t *testing.T) {
	const (
		maxAttempts = 5
		callers     = 50
	)

	l := NewSlidingWindowLimiter(Config{
		MaxAttempts: maxAttempts,
		Window:      time.Minute,
	})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		denied  int
	)

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok := l.Check("contested")
			mu.Lock()
			if ok {
				allowed++
			} else {
				denied++
			}
			mu.Unlock()
		}()
	}

	close(start)
	wg.Wait()

	if allowed != maxAttempts {
		t.Errorf("allowed = %d, want %d", allowed, maxAttempts)
	}
	if denied != callers-maxAttempts {
		t.Errorf("denied = %d, want %d", denied, callers-maxAttempts)
	}
}

func TestCheck_ConcurrentWithCleanupDoesNotLoseAttempts(t *testing.T) {
	l := NewSlidingWindowLimiter(Config{
		MaxAttempts: 1,
		Window:      time.Minute,
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Check("k")
		}()
		go func() {
			defer wg.Done()
			l.Cleanup()
		}()
	}
	wg.Wait()

	// 競合下でも管理テーブルは整合している（パニック・デッドロックなし）
	if l.Len() > 1 {
		t.Errorf("Len() = %d, want at most 1", l.Len())
	}
}

func TestStop_TerminatesCleanupLoop(t *testing.T) {
	l := NewSlidingWindowLimiter(Config{
		MaxAttempts:     5,
		Window:          time.Minute,
		CleanupInterval: 10 * time.Millisecond,
	})

	l.Check("k")
	l.Stop()
	// Stopの多重呼び出しは安全
	l.Stop()
}
