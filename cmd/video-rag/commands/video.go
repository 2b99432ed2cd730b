package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/video-rag/internal/core/video"
)

// VideoRegisterAction は動画を登録するコマンドのアクション
func VideoRegisterAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	download := cmd.Bool("download")
	envFile := cmd.String("env")

	slog.Info("動画登録を開始", "url", url)

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	v, err := appCtx.Container.VideoService.Register(ctx, url)
	if err != nil {
		return fmt.Errorf("動画の登録に失敗: %w", err)
	}

	fmt.Printf("\n✓ 動画を登録しました\n")
	fmt.Printf("  ID:         %s\n", v.ID)
	fmt.Printf("  YouTube ID: %s\n", v.YouTubeID)
	fmt.Printf("  Title:      %s\n", v.Title)
	fmt.Printf("  Duration:   %.1fs\n", v.DurationSec)

	if download {
		v, err = appCtx.Container.VideoService.Download(ctx, v.ID, appCtx.Config.Media.MediaDir)
		if err != nil {
			return fmt.Errorf("メディアのダウンロードに失敗: %w", err)
		}
		if v.MediaPath != nil {
			fmt.Printf("  Media:      %s\n", *v.MediaPath)
		}
	}

	return nil
}

// VideoListAction は動画一覧を表示するコマンドのアクション
func VideoListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	videos, err := appCtx.Container.VideoService.List(ctx)
	if err != nil {
		return fmt.Errorf("動画一覧の取得に失敗: %w", err)
	}

	if len(videos) == 0 {
		fmt.Println("動画はありません")
		return nil
	}

	renderVideosTable(videos)

	return nil
}

// VideoShowAction は動画の詳細を表示するコマンドのアクション
func VideoShowAction(ctx context.Context, cmd *cli.Command) error {
	idStr := cmd.String("id")
	envFile := cmd.String("env")

	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("動画IDの形式が不正です: %w", err)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	v, err := appCtx.Container.VideoService.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("動画の取得に失敗: %w", err)
	}

	status, err := appCtx.Container.IngestService.Status(ctx, id)
	if err != nil {
		return fmt.Errorf("Embedding生成状況の取得に失敗: %w", err)
	}

	segments, err := appCtx.Container.VideoService.Transcript(ctx, id)
	if err != nil {
		return fmt.Errorf("トランスクリプトの取得に失敗: %w", err)
	}

	fmt.Printf("\n=== 動画詳細 ===\n\n")
	fmt.Printf("ID:               %s\n", v.ID)
	fmt.Printf("YouTube ID:       %s\n", v.YouTubeID)
	fmt.Printf("URL:              %s\n", v.URL)
	fmt.Printf("Title:            %s\n", v.Title)
	fmt.Printf("Duration:         %.1fs\n", v.DurationSec)
	if v.MediaPath != nil {
		fmt.Printf("Media Path:       %s\n", *v.MediaPath)
	}
	fmt.Printf("Created At:       %s\n", v.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated At:       %s\n", v.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("抽出済みフレーム: %d\n", status.FramesExtracted)
	fmt.Printf("Embedding済み:    %d\n", status.FramesEmbedded)
	fmt.Printf("トランスクリプト: %d件\n", len(segments))
	fmt.Println()

	return nil
}

// VideoDeleteAction は動画を削除するコマンドのアクション
func VideoDeleteAction(ctx context.Context, cmd *cli.Command) error {
	idStr := cmd.String("id")
	envFile := cmd.String("env")

	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("動画IDの形式が不正です: %w", err)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.VideoService.Delete(ctx, id); err != nil {
		return fmt.Errorf("動画の削除に失敗: %w", err)
	}

	fmt.Printf("✓ 動画を削除しました: %s\n", id)

	return nil
}

// VideoDownloadAction は動画メディアをダウンロードするコマンドのアクション
func VideoDownloadAction(ctx context.Context, cmd *cli.Command) error {
	idStr := cmd.String("id")
	envFile := cmd.String("env")

	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("動画IDの形式が不正です: %w", err)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("メディアのダウンロードを開始", "videoID", id)

	v, err := appCtx.Container.VideoService.Download(ctx, id, appCtx.Config.Media.MediaDir)
	if err != nil {
		return fmt.Errorf("メディアのダウンロードに失敗: %w", err)
	}

	fmt.Printf("\n✓ メディアをダウンロードしました\n")
	if v.MediaPath != nil {
		fmt.Printf("  Path: %s\n", *v.MediaPath)
	}

	return nil
}

func renderVideosTable(videos []*video.Video) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "YouTube ID", "Title", "Duration", "Media", "Created At")

	for _, v := range videos {
		media := "-"
		if v.MediaPath != nil {
			media = "✓"
		}
		table.Append(
			v.ID.String(),
			v.YouTubeID,
			truncateString(v.Title, 40),
			fmt.Sprintf("%.0fs", v.DurationSec),
			media,
			v.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
}

// truncateString は文字列を指定の長さに切り詰めます
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
