// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 匿名セッションに保持された仮登録もセッション行と共に削除される。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder は削除件数と失敗を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordSessionsPurged(count int64)
	RecordCleanupFailure(target string)
}

// SessionCleanupJob は期限切れセッションの削除ジョブ。
// 何度実行しても結果が変わらない冪等な削除処理を行う。
type SessionCleanupJob struct {
	db       Executor
	logger   *slog.Logger
	recorder Recorder

	// Grace は期限切れから削除までの猶予期間（デフォルト: 0）
	Grace time.Duration
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。recorderはnilでもよい。
func NewSessionCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *SessionCleanupJob {
	return &SessionCleanupJob{
		db:       db,
		logger:   logger,
		recorder: recorder,
	}
}

// Run はexpires_atが現在時刻から猶予期間を引いた時刻より古いセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d seconds", int64(j.Grace/time.Second))

	query := `DELETE FROM sessions WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		if j.recorder != nil {
			j.recorder.RecordCleanupFailure("sessions")
		}
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordSessionsPurged(deletedCount)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("grace", j.Grace),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
