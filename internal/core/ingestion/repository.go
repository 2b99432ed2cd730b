package ingestion

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/video-rag/internal/core/video"
)

// ErrNoFrames はフレーム未抽出の動画に対してEmbedding生成を要求した場合のエラー
var ErrNoFrames = errors.New("no frames have been extracted for this video")

// Modality はEmbeddingのモダリティを表す
type Modality string

const (
	// ModalityVisual はフレーム画像由来のEmbedding
	ModalityVisual Modality = "visual"
	// ModalityText はフレームのコンテキスト文字列由来のEmbedding
	ModalityText Modality = "text"
)

// FrameEmbedding はフレームに紐づく1つのEmbeddingを表す
// 再生成時は上書きされ、部分更新は行わない
type FrameEmbedding struct {
	FrameID  int64
	Modality Modality
	Vector   []float32
	Model    string
}

// Repository はingestion関連の全データアクセスを統合するインターフェース
// テスト時のモック用に消費者側で定義
type Repository interface {
	// Video / Frame
	GetVideoByID(ctx context.Context, id uuid.UUID) (mo.Option[*video.Video], error)
	ListFramesByVideo(ctx context.Context, videoID uuid.UUID) ([]*video.Frame, error)
	CountFramesByVideo(ctx context.Context, videoID uuid.UUID) (int, error)
	// BatchCreateFrames はフレームをまとめて登録し、ID採番済みの行を返す
	BatchCreateFrames(ctx context.Context, frames []*video.Frame) ([]*video.Frame, error)
	// UpdateFrameContexts はフレームIDごとのコンテキスト文字列を保存する
	UpdateFrameContexts(ctx context.Context, contexts map[int64]string) error

	// Transcript
	ListTranscriptByVideo(ctx context.Context, videoID uuid.UUID) ([]*video.TranscriptSegment, error)

	// Embedding
	BatchUpsertEmbeddings(ctx context.Context, embeddings []*FrameEmbedding) error
	// CountFramesWithEmbedding はモダリティを問わず1つ以上のEmbeddingを持つフレーム数を返す
	CountFramesWithEmbedding(ctx context.Context, videoID uuid.UUID) (int, error)
	// ListFramesMissingEmbedding は指定モダリティのEmbeddingを持たないフレームを返す
	ListFramesMissingEmbedding(ctx context.Context, videoID uuid.UUID, modality Modality) ([]*video.Frame, error)
	// ListVideosPendingEmbeddings はフレーム抽出済みだがEmbeddingが揃っていない動画のIDを返す
	ListVideosPendingEmbeddings(ctx context.Context) ([]uuid.UUID, error)
}

// Encoder はフレーム画像とコンテキストテキストを共有Embedding空間に変換する
// 外部エンコーダを表す
type Encoder interface {
	BatchEncodeImages(ctx context.Context, images [][]byte) ([][]float32, error)
	BatchEncodeTexts(ctx context.Context, texts []string) ([][]float32, error)
	// ModelName は生成されるEmbeddingのモデル名を返す
	ModelName() string
	// MaxBatchSize は一度にエンコードできる最大数を返す
	MaxBatchSize() int
}

// ExtractedFrame は抽出直後のフレーム（永続化前）を表す
type ExtractedFrame struct {
	Timestamp float64
	Path      string
}

// FrameExtractor は動画メディアから一定間隔でフレームを抽出する外部コラボレータ
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, mediaPath, outDir string, intervalSec int) ([]ExtractedFrame, error)
}

// Locker は動画単位でEmbedding生成を直列化する排他制御を提供する
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
