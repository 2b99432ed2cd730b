package visualsearch

import "errors"

var (
	// ErrVideoNotFound は指定された動画が存在しない場合のエラー
	ErrVideoNotFound = errors.New("video not found")

	// ErrInvalidQuery はクエリが空（トリム後）の場合のエラー
	ErrInvalidQuery = errors.New("query must not be empty")

	// ErrInvalidMode は未知の検索モードが指定された場合のエラー
	ErrInvalidMode = errors.New("unknown search mode")

	// ErrInvalidLimit は件数上限が正の整数でない場合のエラー
	ErrInvalidLimit = errors.New("limit must be a positive integer")

	// ErrInvalidWeights はハイブリッド検索の重みが不正な場合のエラー
	ErrInvalidWeights = errors.New("hybrid weights must be non-negative and sum to 1")

	// ErrEncoder は外部エンコーダの呼び出しに失敗した場合のエラー
	// リトライは行わず、呼び出し側の判断に委ねる
	ErrEncoder = errors.New("encoder request failed")

	// ErrMalformedEmbedding は保存されたEmbeddingが不正な形状の場合のエラー
	// 次元不一致はドット積の内部ではなくストア境界で検出する
	ErrMalformedEmbedding = errors.New("malformed embedding vector")
)
