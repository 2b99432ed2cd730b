package visualsearch

import (
	"fmt"
	"math"
)

// Vector は共有Embedding空間上の固定長ベクトルを表す
type Vector []float32

// NewVector は生のベクトル値を検証してVectorを作成する
// wantDim が正の場合は次元数の一致も検証する
func NewVector(raw []float32, wantDim int) (Vector, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: vector is empty", ErrMalformedEmbedding)
	}
	if wantDim > 0 && len(raw) != wantDim {
		return nil, fmt.Errorf("%w: dimension mismatch (want %d, got %d)", ErrMalformedEmbedding, wantDim, len(raw))
	}
	for i, v := range raw {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: non-finite component at index %d", ErrMalformedEmbedding, i)
		}
	}
	return Vector(raw), nil
}

// Dim は次元数を返す
func (v Vector) Dim() int {
	return len(v)
}

// Cosine は2つのベクトルのコサイン類似度（内積を大きさの積で割った値）を返す
// いずれかの大きさが0の場合はエラーにせず0を返す
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, sqA, sqB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		sqA += float64(a[i]) * float64(a[i])
		sqB += float64(b[i]) * float64(b[i])
	}

	if sqA == 0 || sqB == 0 {
		return 0
	}

	return dot / (math.Sqrt(sqA) * math.Sqrt(sqB))
}
