package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/video-rag/internal/core/ingestion"
	"github.com/jinford/video-rag/internal/core/video"
)

// transcriptSegmentJSON はインポートファイル内の1セグメントを表す
// YouTubeトランスクリプトのエクスポート形式（text/start/duration）に合わせている
type transcriptSegmentJSON struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// TranscriptImportAction はトランスクリプトをインポートするコマンドのアクション
func TranscriptImportAction(ctx context.Context, cmd *cli.Command) error {
	videoIDStr := cmd.String("video")
	file := cmd.String("file")
	envFile := cmd.String("env")

	videoID, err := uuid.Parse(videoIDStr)
	if err != nil {
		return fmt.Errorf("動画IDの形式が不正です: %w", err)
	}

	segments, err := loadTranscriptSegments(file, videoID)
	if err != nil {
		return err
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.VideoService.ImportTranscript(ctx, videoID, segments); err != nil {
		return fmt.Errorf("トランスクリプトのインポートに失敗: %w", err)
	}

	fmt.Printf("✓ %d件のセグメントをインポートしました\n", len(segments))

	// 抽出済みフレームがあれば、新しいトランスクリプトでコンテキストを付け直す
	bound, err := appCtx.Container.IngestService.BindContexts(ctx, videoID)
	if err != nil && !errors.Is(err, ingestion.ErrNoFrames) {
		return fmt.Errorf("コンテキストの付与に失敗: %w", err)
	}
	if bound > 0 {
		fmt.Printf("✓ %d件のフレームにコンテキストを付与しました\n", bound)
	}

	return nil
}

// loadTranscriptSegments はJSONファイルからセグメント列を読み込みます
func loadTranscriptSegments(file string, videoID uuid.UUID) ([]*video.TranscriptSegment, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("トランスクリプトファイルの読み込みに失敗: %w", err)
	}

	var raw []transcriptSegmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("トランスクリプトファイルのパースに失敗: %w", err)
	}

	segments := make([]*video.TranscriptSegment, 0, len(raw))
	for _, seg := range raw {
		segments = append(segments, &video.TranscriptSegment{
			VideoID:  videoID,
			StartSec: seg.Start,
			Duration: seg.Duration,
			Text:     seg.Text,
		})
	}

	return segments, nil
}
