package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// SweepJobConfig はスイープジョブの設定です
type SweepJobConfig struct {
	CronSchedule string // Cron形式のスケジュール（例: "*/10 * * * *" = 10分ごと）
}

// SweepJob はEmbedding未完了の動画を定期的に処理するジョブです
type SweepJob struct {
	config  *SweepJobConfig
	service *IngestService
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewSweepJob は新しいSweepJobを作成します
func NewSweepJob(config *SweepJobConfig, service *IngestService, logger *slog.Logger) *SweepJob {
	if logger == nil {
		logger = slog.Default()
	}

	return &SweepJob{
		config:  config,
		service: service,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start はスケジューラーを起動します
func (j *SweepJob) Start() error {
	_, err := j.cron.AddFunc(j.config.CronSchedule, func() {
		if err := j.Run(context.Background()); err != nil {
			j.logger.Error("スイープジョブの実行に失敗しました", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("cron ジョブの登録に失敗: %w", err)
	}

	j.cron.Start()
	j.logger.Info("スイープジョブを開始しました", "schedule", j.config.CronSchedule)

	return nil
}

// Stop はスケジューラーを停止します
func (j *SweepJob) Stop() {
	j.cron.Stop()
	j.logger.Info("スイープジョブを停止しました")
}

// Run はスイープを1回実行します（手動実行可能）
func (j *SweepJob) Run(ctx context.Context) error {
	processed, err := j.service.SweepPending(ctx)
	if err != nil {
		return fmt.Errorf("スイープの実行に失敗: %w", err)
	}

	if processed > 0 {
		j.logger.Info("スイープが完了しました", "processed", processed)
	}

	return nil
}
