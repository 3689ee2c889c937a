package aggregator

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"
)

const suppressionKeyPrefix = "alert-feed:seen:"

// SuppressionCache 报警抑制缓存
// 同一患者同一语句在一个轮询周期内只呈现一次，
// 防止轮询器和推送通道在同一个周期里各投一次导致重复 toast。
type SuppressionCache struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewSuppressionCache 创建抑制缓存
// kv 为 nil 时退化为进程内内存实现。
func NewSuppressionCache(kv KVStore, ttl time.Duration, logger *zap.Logger) *SuppressionCache {
	if kv == nil {
		kv = NewMemoryKVStore()
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return &SuppressionCache{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
	}
}

// Allow 判定该患者+语句是否允许呈现
// 命中缓存返回 false；缓存后端故障时放行（宁可重复也不丢报警）。
func (s *SuppressionCache) Allow(ctx context.Context, patientID, phrase string) bool {
	key := suppressionKeyPrefix + patientID + ":" + hashPhrase(phrase)

	_, err := s.kv.Get(ctx, key)
	if err == nil {
		return false
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Suppression cache lookup failed",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return true
	}

	if err := s.kv.Set(ctx, key, "1", s.ttl); err != nil {
		s.logger.Warn("Suppression cache write failed",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}
	return true
}

func hashPhrase(phrase string) string {
	sum := sha1.Sum([]byte(phrase))
	return hex.EncodeToString(sum[:8])
}
