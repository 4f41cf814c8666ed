// Package ratelimit はログイン試行のスライディングウィンドウ型レート制限を提供する。
// IPアドレス用とメールアドレス用の2インスタンスを独立に運用することを想定している。
package ratelimit

import (
	"sync"
	"time"
)

// bucket は1キー分の試行タイムスタンプ列。
// muはこのキーの排他区間を守る。removedはCleanupによるテーブルからの
// 除去済みを示し、除去と同時刻のCheckによる記録漏れを防ぐ。
type bucket struct {
	mu       sync.Mutex
	attempts []time.Time
	removed  bool
}

// SlidingWindowLimiter はキーごとの試行回数をウィンドウ内で数えるレート制限。
// テーブル全体のロックはバケットの取得・生成にのみ使い、
// 試行列の読み書きはバケット単位のロックで行う。
// 無関係なキー同士のCheckは直列化されない。
type SlidingWindowLimiter struct {
	maxAttempts int
	window      time.Duration

	mu      sync.RWMutex
	buckets map[string]*bucket

	stopCh   chan struct{}
	stopOnce sync.Once

	// now はテストで時刻を注入するためのフック。
	now func() time.Time
}

// Config はSlidingWindowLimiterの設定。
type Config struct {
	MaxAttempts     int           // ウィンドウ内の最大試行回数
	Window          time.Duration // ウィンドウ長
	CleanupInterval time.Duration // 空バケット回収の実行間隔（0なら回収ループを起動しない）
}

// NewSlidingWindowLimiter は新しいSlidingWindowLimiterを生成する。
// CleanupIntervalが正の場合、バックグラウンドで空バケットの回収を開始する。
func NewSlidingWindowLimiter(cfg Config) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		maxAttempts: cfg.MaxAttempts,
		window:      cfg.Window,
		buckets:     make(map[string]*bucket),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}

	if cfg.CleanupInterval > 0 {
		go l.cleanupLoop(cfg.CleanupInterval)
	}

	return l
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (l *SlidingWindowLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Check はキーの試行をアトミックに判定・記録する。
// ウィンドウ外のタイムスタンプを落としてから残数を判定するため、
// 最古の試行がちょうど期限切れになった瞬間のリクエストは許可される。
// 上限到達時はこの試行を記録せず、再試行可能になるまでの時間を返す。
func (l *SlidingWindowLimiter) Check(key string) (retryAfter time.Duration, ok bool) {
	now := l.now()

	for {
		b := l.getOrCreateBucket(key)

		b.mu.Lock()
		if b.removed {
			// Cleanupに先を越された。テーブルから取り直す。
			b.mu.Unlock()
			continue
		}

		b.attempts = pruneBefore(b.attempts, now.Add(-l.window))

		if len(b.attempts) >= l.maxAttempts {
			oldest := b.attempts[0]
			retryAfter = l.window - now.Sub(oldest)
			b.mu.Unlock()
			return retryAfter, false
		}

		b.attempts = append(b.attempts, now)
		b.mu.Unlock()
		return 0, true
	}
}

// Reset はキーの試行履歴を無条件にクリアする。
// ログイン成功後にメールアドレス側のカウンタを消すために使う。
func (l *SlidingWindowLimiter) Reset(key string) {
	l.mu.Lock()
	b, exists := l.buckets[key]
	if exists {
		delete(l.buckets, key)
	}
	l.mu.Unlock()

	if exists {
		b.mu.Lock()
		b.removed = true
		b.attempts = nil
		b.mu.Unlock()
	}
}

// Cleanup は全キーのウィンドウを刈り込み、空になったキーをテーブルから除去する。
// 一度きりのIP・メールアドレスによる無制限なメモリ増加を抑える。
// リクエスト処理とは独立に定期実行される。
func (l *SlidingWindowLimiter) Cleanup() {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		b.mu.Lock()
		b.attempts = pruneBefore(b.attempts, cutoff)
		if len(b.attempts) == 0 {
			b.removed = true
			delete(l.buckets, key)
		}
		b.mu.Unlock()
	}
}

// Len は現在管理されているキー数を返す。テストおよびメトリクス用。
func (l *SlidingWindowLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// getOrCreateBucket はキーのバケットを取得または作成する。
func (l *SlidingWindowLimiter) getOrCreateBucket(key string) *bucket {
	l.mu.RLock()
	b, exists := l.buckets[key]
	l.mu.RUnlock()

	if exists {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// ダブルチェック
	if b, exists := l.buckets[key]; exists {
		return b
	}

	b = &bucket{}
	l.buckets[key] = b
	return b
}

// cleanupLoop はバックグラウンドで空バケットを定期的に回収する。
func (l *SlidingWindowLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// pruneBefore はcutoff以前のタイムスタンプを先頭から取り除く。
// ちょうどウィンドウ長が経過した試行は期限切れとして扱う。
// attemptsは追記のみで常に昇順であることを前提とする。
func pruneBefore(attempts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return attempts
	}
	return append(attempts[:0], attempts[i:]...)
}
