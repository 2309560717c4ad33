package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for caching fetched thread payloads
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key generates a cache key for a thread ID
func Key(threadID string) string {
	hash := sha256.Sum256([]byte(threadID))
	return "civiclens:v1:" + hex.EncodeToString(hash[:])
}
