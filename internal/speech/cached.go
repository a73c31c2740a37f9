package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"voice-receptionist/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// CachedSynthesizer makes synthesis idempotent within a call: the first
// request for (call, voice, text) synthesizes and stores, later requests and
// media re-fetches get the stored bytes. Concurrent misses for one key share a
// single upstream call.
type CachedSynthesizer struct {
	upstream Synthesizer
	cache    Cache
	ttl      time.Duration
	group    singleflight.Group
}

func NewCachedSynthesizer(upstream Synthesizer, cache Cache, ttl time.Duration) *CachedSynthesizer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedSynthesizer{upstream: upstream, cache: cache, ttl: ttl}
}

// CacheKey scopes audio to one call so identical lines in different calls
// never share an entry.
func CacheKey(callID string, voice Voice, text string) string {
	h := sha256.New()
	h.Write([]byte(callID))
	h.Write([]byte{0})
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *CachedSynthesizer) Audio(ctx context.Context, callID, text string, voice Voice) ([]byte, error) {
	log := logger.From(ctx)
	key := CacheKey(callID, voice, text)

	b, err := s.cache.Get(ctx, key)
	if err == nil {
		synthesisRequests.WithLabelValues("hit").Inc()
		return b, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		log.Warn("speech cache read failed", "err", err)
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		start := time.Now()
		audio, err := s.upstream.Synthesize(ctx, text, voice)
		synthesisLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, key, audio, s.ttl); err != nil {
			log.Warn("speech cache write failed", "err", err)
		}
		return audio, nil
	})
	if err != nil {
		synthesisRequests.WithLabelValues("error").Inc()
		if !errors.Is(err, ErrSynthesisUnavailable) {
			err = errors.Join(ErrSynthesisUnavailable, err)
		}
		return nil, err
	}
	if shared {
		synthesisRequests.WithLabelValues("shared").Inc()
	} else {
		synthesisRequests.WithLabelValues("miss").Inc()
	}
	return v.([]byte), nil
}
