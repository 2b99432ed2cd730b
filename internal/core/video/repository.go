package video

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Repository は動画集約のデータアクセスを提供するインターフェース
// テスト時のモック用に消費者側で定義
type Repository interface {
	// Video
	GetVideoByID(ctx context.Context, id uuid.UUID) (mo.Option[*Video], error)
	GetVideoByYouTubeID(ctx context.Context, youtubeID string) (mo.Option[*Video], error)
	ListVideos(ctx context.Context) ([]*Video, error)
	// CreateVideoIfNotExists はYouTube IDをキーに動画を登録する
	// 既存の場合はタイトル・URLを更新して既存行を返す
	CreateVideoIfNotExists(ctx context.Context, youtubeID, url, title string, durationSec float64) (*Video, error)
	UpdateVideoMediaPath(ctx context.Context, id uuid.UUID, mediaPath string) error
	DeleteVideo(ctx context.Context, id uuid.UUID) error

	// Frame
	ListFramesByVideo(ctx context.Context, videoID uuid.UUID) ([]*Frame, error)

	// Transcript
	// ReplaceTranscript は動画のトランスクリプトを丸ごと入れ替える
	ReplaceTranscript(ctx context.Context, videoID uuid.UUID, segments []*TranscriptSegment) error
	ListTranscriptByVideo(ctx context.Context, videoID uuid.UUID) ([]*TranscriptSegment, error)
}

// MediaResolver はYouTube動画のメタデータ解決とメディア取得を行う外部コラボレータ
type MediaResolver interface {
	// ResolveMetadata はURLから動画メタデータを取得する
	ResolveMetadata(ctx context.Context, url string) (*Metadata, error)
	// Download は動画メディアをdestDir配下に保存し、保存先パスを返す
	Download(ctx context.Context, url string, destDir string) (string, error)
}
