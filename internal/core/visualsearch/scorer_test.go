package visualsearch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEncoder struct {
	vec   []float32
	err   error
	calls int
}

func (e *stubEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func newTestScorer(encoder Encoder, opts ...ScorerOption) *Scorer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScorer(encoder, append([]ScorerOption{WithScorerLogger(logger)}, opts...)...)
}

func TestScorer_EmptyQueryRejectedForEveryMode(t *testing.T) {
	scorer := newTestScorer(&stubEncoder{vec: []float32{1, 0}})
	candidates := []*Candidate{{FrameID: 1, Visual: Vector{1, 0}}}

	for _, mode := range []Mode{ModeText, ModeVisual, ModeHybrid} {
		t.Run(string(mode), func(t *testing.T) {
			_, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "   \t ", Mode: mode})
			require.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestScorer_UnknownModeRejected(t *testing.T) {
	scorer := newTestScorer(&stubEncoder{vec: []float32{1, 0}})

	_, err := scorer.Score(context.Background(), nil, ScoreParams{Query: "cat", Mode: Mode("semantic")})
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestScorer_InvalidWeightsRejected(t *testing.T) {
	scorer := newTestScorer(&stubEncoder{vec: []float32{1, 0}})

	tests := []struct {
		name    string
		weights HybridWeights
	}{
		{name: "合計が1でない", weights: HybridWeights{Text: 0.5, Visual: 0.9}},
		{name: "負の重み", weights: HybridWeights{Text: -0.5, Visual: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scorer.Score(context.Background(), nil, ScoreParams{
				Query:   "cat",
				Mode:    ModeHybrid,
				Weights: &tt.weights,
			})
			require.ErrorIs(t, err, ErrInvalidWeights)
		})
	}
}

// TestScorer_TextModeDoesNotCallEncoder はテキストモードがエンコーダ非依存であることをテストします
func TestScorer_TextModeDoesNotCallEncoder(t *testing.T) {
	encoder := &stubEncoder{vec: []float32{1, 0}}
	scorer := newTestScorer(encoder)

	candidates := []*Candidate{
		{FrameID: 1, Timestamp: 0, Context: "a red car drives past"},
		{FrameID: 2, Timestamp: 10, Context: ""},
		{FrameID: 3, Timestamp: 20, Context: "blue sky"},
	}

	scored, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "red car", Mode: ModeText})
	require.NoError(t, err)
	require.Len(t, scored, 3)
	assert.Zero(t, encoder.calls)

	// "red car" の2語とも出現 => 1.0、コンテキストなし => 0、不一致 => 0
	assert.InDelta(t, 1.0, scored[0].Score, 1e-9)
	assert.Equal(t, 0.0, scored[1].Score)
	assert.Equal(t, 0.0, scored[2].Score)
}

func TestScorer_TextModePartialOverlap(t *testing.T) {
	scorer := newTestScorer(&stubEncoder{})

	candidates := []*Candidate{
		{FrameID: 1, Context: "the car stops"},
	}

	scored, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "red car", Mode: ModeText})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.InDelta(t, 0.5, scored[0].Score, 1e-9)
}

// TestScorer_VisualModeScoresByCosine は視覚モードのコサイン類似度計算をテストします
func TestScorer_VisualModeScoresByCosine(t *testing.T) {
	encoder := &stubEncoder{vec: []float32{1, 0}}
	scorer := newTestScorer(encoder)

	candidates := []*Candidate{
		{FrameID: 1, Timestamp: 0, Visual: Vector{1, 0}},  // 類似度 1
		{FrameID: 2, Timestamp: 10, Visual: Vector{0, 1}}, // 類似度 0
	}

	scored, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "cat", Mode: ModeVisual})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.InDelta(t, 1.0, scored[0].Score, 1e-9)
	assert.InDelta(t, 0.0, scored[1].Score, 1e-9)
}

// TestScorer_EncodesQueryOnce はクエリのエンコードが候補数に関わらず1回であることをテストします
func TestScorer_EncodesQueryOnce(t *testing.T) {
	encoder := &stubEncoder{vec: []float32{1, 0}}
	scorer := newTestScorer(encoder)

	candidates := make([]*Candidate, 0, 50)
	for i := range 50 {
		candidates = append(candidates, &Candidate{
			FrameID:   int64(i),
			Timestamp: float64(i) * 10,
			Visual:    Vector{1, 0},
		})
	}

	_, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "cat", Mode: ModeHybrid})
	require.NoError(t, err)
	assert.Equal(t, 1, encoder.calls)
}

// TestScorer_MissingVisualEmbeddingExcludesCandidate は視覚Embedding欠損時の候補単位除外をテストします
func TestScorer_MissingVisualEmbeddingExcludesCandidate(t *testing.T) {
	encoder := &stubEncoder{vec: []float32{1, 0}}
	scorer := newTestScorer(encoder)

	candidates := []*Candidate{
		{FrameID: 1, Timestamp: 0, Visual: Vector{1, 0}},
		{FrameID: 2, Timestamp: 10, Visual: nil, Context: "red car"}, // 未生成
		{FrameID: 3, Timestamp: 20, Visual: Vector{0, 1}},
	}

	for _, mode := range []Mode{ModeVisual, ModeHybrid} {
		t.Run(string(mode), func(t *testing.T) {
			scored, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "red car", Mode: mode})
			require.NoError(t, err)
			require.Len(t, scored, 2)
			for _, sc := range scored {
				assert.NotEqual(t, int64(2), sc.Candidate.FrameID)
			}
		})
	}

	// テキストモードでは視覚Embeddingは不要
	scored, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "red car", Mode: ModeText})
	require.NoError(t, err)
	assert.Len(t, scored, 3)
}

// TestScorer_HybridExactWeightedSum はハイブリッドスコアが重み付き和と厳密に一致することをテストします
func TestScorer_HybridExactWeightedSum(t *testing.T) {
	encoder := &stubEncoder{vec: []float32{1, 0}}
	scorer := newTestScorer(encoder)

	// 視覚成分: cosine((1,0),(0,1)) = 0
	// テキスト成分: "red car" のうち "car" のみ一致 = 0.5
	candidates := []*Candidate{
		{FrameID: 1, Timestamp: 0, Context: "a car drives", Visual: Vector{0, 1}},
	}

	scored, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "red car", Mode: ModeHybrid})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, 0.5*0.0+0.5*0.5, scored[0].Score)
}

func TestScorer_HybridCustomWeights(t *testing.T) {
	encoder := &stubEncoder{vec: []float32{1, 0}}
	scorer := newTestScorer(encoder)

	// 視覚成分 1.0、テキスト成分 0.5
	candidates := []*Candidate{
		{FrameID: 1, Timestamp: 0, Context: "a car drives", Visual: Vector{1, 0}},
	}

	weights := HybridWeights{Text: 0.25, Visual: 0.75}
	scored, err := scorer.Score(context.Background(), candidates, ScoreParams{
		Query:   "red car",
		Mode:    ModeHybrid,
		Weights: &weights,
	})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.InDelta(t, 0.75*1.0+0.25*0.5, scored[0].Score, 1e-9)
}

// TestScorer_HybridMissingContextContributesZero はコンテキスト欠損が0として寄与することをテストします
func TestScorer_HybridMissingContextContributesZero(t *testing.T) {
	encoder := &stubEncoder{vec: []float32{1, 0}}
	scorer := newTestScorer(encoder)

	candidates := []*Candidate{
		{FrameID: 1, Timestamp: 0, Context: "", Visual: Vector{1, 0}},
	}

	scored, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "red car", Mode: ModeHybrid})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.InDelta(t, 0.5*1.0, scored[0].Score, 1e-9)
}

// TestScorer_HybridPrefersStoredTextEmbedding は保存済みテキストEmbeddingが字句類似より優先されることをテストします
func TestScorer_HybridPrefersStoredTextEmbedding(t *testing.T) {
	encoder := &stubEncoder{vec: []float32{1, 0}}
	scorer := newTestScorer(encoder)

	// 字句類似なら0になるコンテキストだが、テキストEmbeddingはクエリと一致
	candidates := []*Candidate{
		{
			FrameID:   1,
			Timestamp: 0,
			Context:   "zzz",
			Visual:    Vector{1, 0},
			Text:      Vector{1, 0},
		},
	}

	scored, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "red car", Mode: ModeHybrid})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.InDelta(t, 0.5*1.0+0.5*1.0, scored[0].Score, 1e-9)
}

func TestScorer_EncoderFailurePropagated(t *testing.T) {
	cause := errors.New("connection refused")
	encoder := &stubEncoder{err: cause}
	scorer := newTestScorer(encoder)

	candidates := []*Candidate{{FrameID: 1, Visual: Vector{1, 0}}}

	for _, mode := range []Mode{ModeVisual, ModeHybrid} {
		t.Run(string(mode), func(t *testing.T) {
			encoder.calls = 0
			_, err := scorer.Score(context.Background(), candidates, ScoreParams{Query: "cat", Mode: mode})
			require.ErrorIs(t, err, ErrEncoder)
			// リトライしないこと
			assert.Equal(t, 1, encoder.calls)
		})
	}
}

// TestScorer_EmptyCandidates は候補が空の場合にエンコーダを呼ばず空の結果を返すことをテストします
func TestScorer_EmptyCandidates(t *testing.T) {
	encoder := &stubEncoder{vec: []float32{1, 0}}
	scorer := newTestScorer(encoder)

	scored, err := scorer.Score(context.Background(), nil, ScoreParams{Query: "cat", Mode: ModeHybrid})
	require.NoError(t, err)
	assert.Empty(t, scored)
	assert.Zero(t, encoder.calls)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "大文字小文字と記号の正規化",
			input: "Red CAR, red!",
			want:  []string{"red", "car"},
		},
		{
			name:  "空文字列",
			input: "",
			want:  []string{},
		},
		{
			name:  "記号のみ",
			input: "!!! ---",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.input))
		})
	}
}
