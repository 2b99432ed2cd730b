package ingestion

import (
	"strings"

	"github.com/jinford/video-rag/internal/core/video"
)

const (
	// DefaultContextWindowSec はフレーム前後でトランスクリプトを収集する秒数
	DefaultContextWindowSec = 15.0
	// DefaultContextTokenBudget はフレームコンテキストの最大トークン数
	DefaultContextTokenBudget = 256
)

// TokenCounter はコンテキスト文字列のトークン数を制御するためのインターフェース
type TokenCounter interface {
	CountTokens(text string) int
	TrimToTokenLimit(text string, maxTokens int) string
}

// ContextBinder はトランスクリプトのセグメントをフレームの周辺コンテキストとして束ねる
// フレームのタイムスタンプを中心としたウィンドウに重なるセグメントを時系列順に連結する
type ContextBinder struct {
	windowSec   float64
	tokenBudget int
	counter     TokenCounter
}

type contextBinderOptions struct {
	windowSec   float64
	tokenBudget int
}

// ContextBinderOption は ContextBinder のオプション設定
type ContextBinderOption func(*contextBinderOptions)

// WithContextWindow はウィンドウ幅（秒）を設定する
func WithContextWindow(sec float64) ContextBinderOption {
	return func(o *contextBinderOptions) {
		o.windowSec = sec
	}
}

// WithContextTokenBudget はコンテキストの最大トークン数を設定する
func WithContextTokenBudget(tokens int) ContextBinderOption {
	return func(o *contextBinderOptions) {
		o.tokenBudget = tokens
	}
}

// NewContextBinder は新しいContextBinderを作成する
func NewContextBinder(counter TokenCounter, opts ...ContextBinderOption) *ContextBinder {
	options := contextBinderOptions{
		windowSec:   DefaultContextWindowSec,
		tokenBudget: DefaultContextTokenBudget,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.windowSec <= 0 {
		options.windowSec = DefaultContextWindowSec
	}
	if options.tokenBudget <= 0 {
		options.tokenBudget = DefaultContextTokenBudget
	}

	return &ContextBinder{
		windowSec:   options.windowSec,
		tokenBudget: options.tokenBudget,
		counter:     counter,
	}
}

// Bind はフレームIDごとのコンテキスト文字列を組み立てる
// ウィンドウに重なるセグメントが1つもないフレームは結果に含まれない
func (b *ContextBinder) Bind(frames []*video.Frame, segments []*video.TranscriptSegment) map[int64]string {
	contexts := make(map[int64]string, len(frames))
	if len(segments) == 0 {
		return contexts
	}

	for _, frame := range frames {
		windowStart := frame.Timestamp - b.windowSec
		windowEnd := frame.Timestamp + b.windowSec

		var parts []string
		for _, seg := range segments {
			// セグメント区間 [StartSec, End) とウィンドウ区間の重なりを判定
			if seg.StartSec < windowEnd && seg.End() > windowStart {
				text := strings.TrimSpace(seg.Text)
				if text != "" {
					parts = append(parts, text)
				}
			}
		}
		if len(parts) == 0 {
			continue
		}

		context := strings.Join(parts, " ")
		if b.counter != nil && b.counter.CountTokens(context) > b.tokenBudget {
			context = b.counter.TrimToTokenLimit(context, b.tokenBudget)
		}
		contexts[frame.ID] = context
	}

	return contexts
}
