package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/jinford/video-rag/internal/core/ingestion"
)

// WorkerStartAction はEmbedding生成ワーカーを起動するコマンドのアクション
func WorkerStartAction(ctx context.Context, cmd *cli.Command) error {
	schedule := cmd.String("schedule")
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	job := ingestion.NewSweepJob(
		&ingestion.SweepJobConfig{CronSchedule: schedule},
		appCtx.Container.IngestService,
		appCtx.Logger(),
	)
	if err := job.Start(); err != nil {
		return err
	}

	// シグナル受信までスケジュール実行を継続する
	<-ctx.Done()
	job.Stop()

	return nil
}
