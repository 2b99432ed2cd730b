package video

import (
	"time"

	"github.com/google/uuid"
)

// Video はYouTube動画の集約ルートを表す
type Video struct {
	ID          uuid.UUID
	YouTubeID   string
	URL         string
	Title       string
	DurationSec float64
	// MediaPath はダウンロード済みローカルメディアのパス（未取得の場合nil）
	MediaPath *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Frame は動画から一定間隔でサンプリングされた1枚の静止画を表す
// 作成後は不変で、所有する動画の削除時にのみ削除される
type Frame struct {
	ID        int64
	VideoID   uuid.UUID
	Timestamp float64
	Path      string
	// Context は近傍トランスクリプトから束ねたテキスト（未設定の場合は空文字列）
	Context   string
	CreatedAt time.Time
}

// TranscriptSegment はトランスクリプトの1区間を表す
type TranscriptSegment struct {
	ID       int64
	VideoID  uuid.UUID
	StartSec float64
	Duration float64
	Text     string
}

// End はセグメントの終了秒を返す
func (s *TranscriptSegment) End() float64 {
	return s.StartSec + s.Duration
}

// Metadata は外部リゾルバから取得した動画メタデータを表す
type Metadata struct {
	YouTubeID   string
	Title       string
	DurationSec float64
}
