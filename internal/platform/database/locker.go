package database

import (
	"context"

	"github.com/jinford/video-rag/internal/core/ingestion"
)

// AdvisoryLocker はPostgreSQLのアドバイザリロックでキー単位の排他制御を提供します
// ロック取得用のトランザクションをfnの実行中保持することで、同一キーの処理を直列化します
// fn内のデータベース書き込みはこのトランザクションの外（プール経由）で行われるため、
// 並行する読み取りは処理途中の状態を参照できます
type AdvisoryLocker struct {
	provider *TransactionProvider
}

var _ ingestion.Locker = (*AdvisoryLocker)(nil)

// NewAdvisoryLocker は新しいAdvisoryLockerを作成します
func NewAdvisoryLocker(provider *TransactionProvider) *AdvisoryLocker {
	return &AdvisoryLocker{provider: provider}
}

// WithLock はキーに対応するアドバイザリロックを取得してfnを実行します
// ロックはfnの完了（トランザクションの終了）時に自動的に解放されます
func (l *AdvisoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	_, err := Transact(ctx, l.provider, func(a *Adapter) (struct{}, error) {
		if err := a.Locks.Acquire(ctx, GenerateLockID(key)); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, fn(ctx)
	})
	return err
}
