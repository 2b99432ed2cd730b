package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/video-rag/internal/core/ingestion"
	"github.com/jinford/video-rag/internal/platform/config"
)

// EmbeddingsGenerateAction はEmbeddingを生成するコマンドのアクション
func EmbeddingsGenerateAction(ctx context.Context, cmd *cli.Command) error {
	videoIDStr := cmd.String("video")
	workers := cmd.Int("workers")
	batchSize := cmd.Int("batch-size")
	overwrite := cmd.Bool("overwrite")
	envFile := cmd.String("env")

	videoID, err := uuid.Parse(videoIDStr)
	if err != nil {
		return fmt.Errorf("動画IDの形式が不正です: %w", err)
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	// フラグ指定がある場合はパイプライン設定を上書きする
	if workers > 0 {
		cfg.Embedding.Workers = workers
	}
	if batchSize > 0 {
		cfg.Embedding.BatchSize = batchSize
	}

	appCtx, err := NewAppContextFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("Embedding生成を開始",
		"videoID", videoID,
		"workers", cfg.Embedding.Workers,
		"batchSize", cfg.Embedding.BatchSize,
		"overwrite", overwrite,
	)

	result, err := appCtx.Container.IngestService.GenerateEmbeddings(ctx, ingestion.GenerateParams{
		VideoID:   videoID,
		Overwrite: overwrite,
	})
	if err != nil {
		return fmt.Errorf("Embedding生成に失敗: %w", err)
	}

	fmt.Printf("\n✓ Embedding生成が完了しました\n")
	fmt.Printf("  対象フレーム: %d\n", result.Stats.TotalFrames)
	fmt.Printf("  visual生成:   %d\n", result.Stats.VisualEmbedded)
	fmt.Printf("  text生成:     %d\n", result.Stats.TextEmbedded)
	fmt.Printf("  失敗:         %d\n", result.Stats.FailedFrames)
	fmt.Printf("  所要時間:     %s\n", result.Duration)

	return nil
}

// EmbeddingsStatusAction はEmbedding生成状況を表示するコマンドのアクション
func EmbeddingsStatusAction(ctx context.Context, cmd *cli.Command) error {
	videoIDStr := cmd.String("video")
	envFile := cmd.String("env")

	videoID, err := uuid.Parse(videoIDStr)
	if err != nil {
		return fmt.Errorf("動画IDの形式が不正です: %w", err)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	status, err := appCtx.Container.IngestService.Status(ctx, videoID)
	if err != nil {
		return fmt.Errorf("Embedding生成状況の取得に失敗: %w", err)
	}

	// 全フレームにEmbeddingが揃っているかは検索側の判定を使う
	searchable, err := appCtx.Container.SearchService.EmbeddingsExist(ctx, videoID)
	if err != nil {
		return fmt.Errorf("検索可否の確認に失敗: %w", err)
	}

	fmt.Printf("\n=== Embedding生成状況 ===\n\n")
	fmt.Printf("Video ID:         %s\n", status.VideoID)
	fmt.Printf("抽出済みフレーム: %d\n", status.FramesExtracted)
	fmt.Printf("Embedding済み:    %d\n", status.FramesEmbedded)
	fmt.Printf("検索利用可能:     %t\n", searchable)
	fmt.Println()

	return nil
}
