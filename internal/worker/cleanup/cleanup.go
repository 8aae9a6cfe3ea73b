// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// セッションの有効性はexpires_atで判定されるため、このジョブは保存領域の整理のみを担う。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionDeleter は期限切れセッションを削除するインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ReapRecorder は削除件数を記録するメトリクスのインターフェース。
type ReapRecorder interface {
	RecordSessionsReaped(count int64)
}

// SessionReaper は保持期間を超過した期限切れセッションの自動削除ジョブ。
// 冪等な削除処理を保証し、定期実行される。
type SessionReaper struct {
	sessions  SessionDeleter
	metrics   ReapRecorder
	logger    *slog.Logger
	Retention time.Duration // 期限切れ後に行を残す期間（デフォルト: 24時間）
	now       func() time.Time
}

// NewSessionReaper は新しいSessionReaperを生成する。
// metricsはnilでもよい。
func NewSessionReaper(sessions SessionDeleter, metrics ReapRecorder, logger *slog.Logger) *SessionReaper {
	return &SessionReaper{
		sessions:  sessions,
		metrics:   metrics,
		logger:    logger,
		Retention: 24 * time.Hour,
		now:       time.Now,
	}
}

// Run はexpires_atが(現在時刻 - Retention)より古いセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SessionReaper) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.Add(-j.Retention)

	deleted, err := j.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		j.logger.ErrorContext(ctx, "session reaper failed",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("failed to reap expired sessions: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordSessionsReaped(deleted)
	}

	j.logger.InfoContext(ctx, "session reaper completed",
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はinterval間隔でRunを実行する。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *SessionReaper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.InfoContext(ctx, "session reaper started",
		slog.Duration("interval", interval),
		slog.Duration("retention", j.Retention),
	)

	// 失敗は次の周期で再試行されるためログのみ
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session reaper stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
