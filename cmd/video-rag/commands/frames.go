package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/video-rag/internal/core/ingestion"
)

// FramesExtractAction はフレームを抽出するコマンドのアクション
func FramesExtractAction(ctx context.Context, cmd *cli.Command) error {
	videoIDStr := cmd.String("video")
	interval := cmd.Int("interval")
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

	slog.Info("フレーム抽出を開始", "videoID", videoID, "interval", interval)

	result, err := appCtx.Container.IngestService.ExtractFrames(ctx, ingestion.ExtractParams{
		VideoID:     videoID,
		IntervalSec: interval,
	})
	if err != nil {
		return fmt.Errorf("フレーム抽出に失敗: %w", err)
	}

	if result.Skipped {
		fmt.Println("フレームは抽出済みのためスキップしました")
		return nil
	}

	fmt.Printf("\n✓ フレーム抽出が完了しました\n")
	fmt.Printf("  抽出フレーム数:   %d\n", result.FrameCount)
	fmt.Printf("  コンテキスト付与: %d\n", result.ContextsBound)
	fmt.Printf("  所要時間:         %s\n", result.Duration)

	return nil
}
