package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConnectRedis creates a Redis client and verifies connectivity.
func ConnectRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Cached legt Embeddings von Suchanfragen in Redis ab. Redis-Fehler werden
// nur geloggt; der zugrundeliegende Provider wird dann direkt gefragt.
type Cached struct {
	inner  Provider
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached umhüllt einen Provider mit einem Redis-Cache.
func NewCached(inner Provider, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cached {
	return &Cached{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

// ModelName returns the name of the embedding model.
func (c *Cached) ModelName() string { return c.inner.ModelName() }

// Dimensions returns the expected vector dimensions.
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Embed liefert das Embedding aus dem Cache oder vom Provider.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.inner.ModelName(), c.inner.Dimensions(), text)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vec, decErr := DecodeVector(raw); decErr == nil && len(vec) == c.inner.Dimensions() {
			return vec, nil
		}
		c.logger.Debug("ungültiger Cache-Eintrag", zap.String("key", key))
	case err != redis.Nil:
		c.logger.Warn("Redis-Lesefehler", zap.Error(err))
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, EncodeVector(vec), c.ttl).Err(); err != nil {
		c.logger.Warn("Redis-Schreibfehler", zap.Error(err))
	}
	return vec, nil
}

// EmbedBatch wird nicht gecacht.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

// CacheKey bildet den Redis-Schlüssel aus Modell, Dimension und Text.
func CacheKey(model string, dims int, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%d:%s", model, dims, hex.EncodeToString(sum[:]))
}

// EncodeVector serialisiert einen Vektor als little-endian float32.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector ist die Umkehrung von EncodeVector.
func DecodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid vector encoding: %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
