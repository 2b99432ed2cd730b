package visualsearch

import (
	"context"

	"github.com/google/uuid"
)

// CandidateStore は動画ごとの候補集合への読み取り専用ビューを提供する
// Embeddingの書き込みはingestion側のワークフローが担い、検索経路では一切行わない
// テスト時のモック用に消費者側で定義
type CandidateStore interface {
	// GetCandidates は動画の全候補（Embeddingを1つ以上持つフレーム）を返す
	// 動画が存在しない場合は ErrVideoNotFound を返す
	// フレームは抽出済みだがEmbeddingが未生成の場合は空のスライスを返す（エラーではない）
	// 呼び出し側は空判定ではなく EmbeddingsExist で生成状況を確認すること
	GetCandidates(ctx context.Context, videoID uuid.UUID) ([]*Candidate, error)

	// EmbeddingsExist は抽出済みの全フレームにEmbeddingが存在する場合にtrueを返す
	// 動画が存在しない場合は ErrVideoNotFound を返す
	EmbeddingsExist(ctx context.Context, videoID uuid.UUID) (bool, error)
}
