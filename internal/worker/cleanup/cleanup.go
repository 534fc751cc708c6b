// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// セッションの有効性は認証時にexpires_atで判定されるため、
// このジョブはテーブルの肥大化を防ぐためだけに実行する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/contextos/internal/metrics"
)

// SessionSweeper は期限切れセッションを削除するインターフェース。
// repository.SessionRepositoryが実装する。
type SessionSweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SessionCleanupJob は期限切れセッションの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type SessionCleanupJob struct {
	sessions SessionSweeper
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewSessionCleanupJob(sessions SessionSweeper, logger *slog.Logger, collector metrics.MetricsCollector) *SessionCleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &SessionCleanupJob{
		sessions: sessions,
		logger:   logger,
		metrics:  collector,
		now:      time.Now,
	}
}

// Run は現在時刻より前に期限切れとなったセッションを削除する。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now()

	deleted, err := j.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to sweep expired sessions: %w", err)
	}

	j.metrics.RecordSessionsSwept(deleted)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで継続し、個々の失敗では停止しない。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップを開始しました",
		slog.Duration("interval", interval),
	)

	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
