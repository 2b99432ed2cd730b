package visualsearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

// Encoder はクエリテキストをフレームの視覚Embeddingと同じ空間に変換する
// 外部エンコーダを表す。失敗時のリトライはエンコードが冪等なため行わず、
// 呼び出し側の判断に委ねる
type Encoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
}

// Scorer はモードに応じて候補ごとのスコアを計算する
// 入力と外部エンコーダ以外に依存しない（副作用なし）
type Scorer struct {
	encoder Encoder
	weights HybridWeights
	logger  *slog.Logger
}

type scorerOptions struct {
	weights HybridWeights
	logger  *slog.Logger
}

// ScorerOption はScorer構築時のオプション
type ScorerOption func(*scorerOptions)

// WithScorerWeights はハイブリッド検索のデフォルト重みを差し替える
func WithScorerWeights(w HybridWeights) ScorerOption {
	return func(opts *scorerOptions) {
		opts.weights = w
	}
}

// WithScorerLogger はロガーを差し替える
func WithScorerLogger(logger *slog.Logger) ScorerOption {
	return func(opts *scorerOptions) {
		opts.logger = logger
	}
}

// NewScorer は新しいScorerを作成する
func NewScorer(encoder Encoder, opts ...ScorerOption) *Scorer {
	options := scorerOptions{
		weights: DefaultHybridWeights(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Scorer{
		encoder: encoder,
		weights: options.weights,
		logger:  options.logger,
	}
}

// ScoreParams はスコアリングのパラメータを表す
// Weightsがnilの場合はScorer構築時のデフォルト重みを使用する
type ScoreParams struct {
	Query   string
	Mode    Mode
	Weights *HybridWeights
}

// Score は候補ごとのスコアを計算する
//
// テキストモード: クエリとコンテキスト文字列の字句類似度。コンテキストが
// 無い候補のスコアは0。エンコーダは呼ばない。
//
// 視覚モード: クエリを視覚Embedding空間にエンコードし、各候補の視覚
// Embeddingとのコサイン類似度を計算する。視覚Embeddingを持たない候補は
// 結果から除外する（候補単位の欠損は検索全体の失敗にしない）。
//
// ハイブリッドモード: 視覚スコアとテキストスコアの重み付き和。テキスト
// コンテキストの欠損は0として寄与し、単一モダリティへの暗黙の縮退はしない。
func (s *Scorer) Score(ctx context.Context, candidates []*Candidate, params ScoreParams) ([]ScoredCandidate, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	mode, err := ParseMode(string(params.Mode))
	if err != nil {
		return nil, err
	}

	weights := s.weights
	if params.Weights != nil {
		weights = *params.Weights
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return []ScoredCandidate{}, nil
	}

	// クエリのエンコードは検索ごとに1回だけ行う
	var queryVec Vector
	if mode == ModeVisual || mode == ModeHybrid {
		raw, err := s.encoder.EncodeText(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncoder, err)
		}
		queryVec, err = NewVector(raw, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncoder, err)
		}
	}

	queryTokens := tokenize(query)

	scored := make([]ScoredCandidate, 0, len(candidates))
	excluded := 0
	for _, c := range candidates {
		switch mode {
		case ModeText:
			scored = append(scored, ScoredCandidate{
				Candidate: c,
				Score:     s.textScore(queryTokens, c, nil),
			})

		case ModeVisual:
			if c.Visual == nil {
				excluded++
				continue
			}
			scored = append(scored, ScoredCandidate{
				Candidate: c,
				Score:     Cosine(queryVec, c.Visual),
			})

		case ModeHybrid:
			if c.Visual == nil {
				excluded++
				continue
			}
			visualScore := Cosine(queryVec, c.Visual)
			textScore := s.textScore(queryTokens, c, queryVec)
			scored = append(scored, ScoredCandidate{
				Candidate: c,
				Score:     weights.Visual*visualScore + weights.Text*textScore,
			})
		}
	}

	if excluded > 0 {
		s.logger.Debug("視覚Embedding未生成の候補を除外しました",
			"mode", string(mode),
			"excluded", excluded,
			"scored", len(scored),
		)
	}

	return scored, nil
}

// textScore はテキスト成分のスコアを計算する
// コンテキストを持たない候補は常に0。保存済みテキストEmbeddingがクエリと
// 同一空間（同一次元）にあり、かつクエリが既にエンコード済み（ハイブリッド
// モード）の場合は共有空間上のコサイン類似度を使い、それ以外はエンコーダ
// 非依存の字句類似度を使う
func (s *Scorer) textScore(queryTokens []string, c *Candidate, queryVec Vector) float64 {
	if strings.TrimSpace(c.Context) == "" {
		return 0
	}
	if queryVec != nil && c.Text != nil && len(c.Text) == len(queryVec) {
		return Cosine(queryVec, c.Text)
	}
	return lexicalSimilarity(queryTokens, c.Context)
}

// lexicalSimilarity はクエリ語のうちコンテキストに出現する語の割合を返す
// 値域は[0,1]。全語一致で1、全語不一致で0
func lexicalSimilarity(queryTokens []string, context string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	contextTokens := tokenize(context)
	if len(contextTokens) == 0 {
		return 0
	}

	contextSet := make(map[string]struct{}, len(contextTokens))
	for _, t := range contextTokens {
		contextSet[t] = struct{}{}
	}

	matched := 0
	for _, t := range queryTokens {
		if _, ok := contextSet[t]; ok {
			matched++
		}
	}

	return float64(matched) / float64(len(queryTokens))
}

// tokenize は小文字化した上で英数字以外の文字を区切りとして分割し、重複を除く
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}
