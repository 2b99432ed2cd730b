package visualsearch

import (
	"fmt"
	"math"
)

// Mode は検索モードを表す
type Mode string

const (
	// ModeText はコンテキスト文字列に対するテキスト検索
	ModeText Mode = "text"
	// ModeVisual は視覚Embeddingに対するコサイン類似度検索
	ModeVisual Mode = "visual"
	// ModeHybrid はテキストと視覚のスコアを重み付けして統合する検索
	ModeHybrid Mode = "hybrid"
)

// DefaultMode はモード未指定時のデフォルト
const DefaultMode = ModeHybrid

// ParseMode は文字列をModeに変換する
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeText, ModeVisual, ModeHybrid:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Candidate はスコアリング対象となる1フレーム分の候補を表す
// VisualとTextはEmbedding未生成の場合nil（テキストEmbeddingは任意）
type Candidate struct {
	FrameID   int64
	Timestamp float64
	Path      string
	Context   string
	Visual    Vector
	Text      Vector
}

// ScoredCandidate はスコア付けされた候補を表す
type ScoredCandidate struct {
	Candidate *Candidate
	Score     float64
}

// SearchResult は視覚検索の結果1件を表す
// JSONフィールド名はフロントエンドが参照するワイヤ形式
type SearchResult struct {
	FrameID   int64   `json:"frame_id"`
	Timestamp float64 `json:"timestamp"`
	Score     float64 `json:"score"`
	MatchType string  `json:"match_type"`
	Path      string  `json:"path"`
}

// HybridWeights はハイブリッド検索におけるテキスト・視覚スコアの重みを表す
type HybridWeights struct {
	Text   float64
	Visual float64
}

// DefaultHybridWeights はデフォルトの重み（0.5/0.5）を返す
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Text: 0.5, Visual: 0.5}
}

// Validate は重みが非負で合計1であることを検証する
func (w HybridWeights) Validate() error {
	if w.Text < 0 || w.Visual < 0 {
		return fmt.Errorf("%w: text=%g visual=%g", ErrInvalidWeights, w.Text, w.Visual)
	}
	if math.Abs(w.Text+w.Visual-1.0) > 1e-9 {
		return fmt.Errorf("%w: sum=%g", ErrInvalidWeights, w.Text+w.Visual)
	}
	return nil
}
