package postgres

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/persistence"
)

// Gateway is the concrete persistence.Gateway: Postgres for durable
// writes, Redis as a read-through hot tier for the FAQ semantic cache.
// Every write retries with bounded exponential backoff (<=3 attempts)
// per the PERSISTENCE error kind in spec.md §7; a write that still
// fails is dropped and logged — the live broadcast has already
// happened and is never rolled back.
type Gateway struct {
	db     *gorm.DB
	redis  *redis.Client
	logger commons.Logger
}

// New builds a Gateway. redisClient may be nil, in which case the FAQ
// cache is Postgres-only (still correct, just without the hot tier).
func New(db *gorm.DB, redisClient *redis.Client, logger commons.Logger) *Gateway {
	return &Gateway{db: db, redis: redisClient, logger: logger}
}

func withRetry(ctx context.Context, logger commons.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		logger.Warnw("persistence write failed, retrying", "op", op, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(math.Pow(2, float64(attempt))) * 50 * time.Millisecond):
		}
	}
	logger.Errorw("persistence write dropped after retries", "op", op, "error", err)
	return err
}

func (g *Gateway) SessionBegin(ctx context.Context, roomName string) (string, error) {
	s := &ConsultationSession{RoomName: roomName}
	err := withRetry(ctx, g.logger, "session_begin", func() error {
		return g.db.WithContext(ctx).Create(s).Error
	})
	if err != nil {
		return "", fmt.Errorf("session_begin: %w", err)
	}
	return s.ID, nil
}

// TranscriptAppend is idempotent keyed by (session_id, turn_index): a
// replay with the same key finds the existing row via FirstOrCreate
// and inserts nothing.
func (g *Gateway) TranscriptAppend(ctx context.Context, sessionID string, turnIndex int, speakerType, speakerName, text string, timestampUnixMs int64, confidence float64, isFinal bool, source string) error {
	row := &ConsultationTranscript{
		SessionID:   sessionID,
		TurnIndex:   turnIndex,
		SpeakerType: speakerType,
		SpeakerName: speakerName,
		Text:        text,
		TimestampMs: timestampUnixMs,
		Confidence:  confidence,
		IsFinal:     isFinal,
		Source:      source,
	}
	return withRetry(ctx, g.logger, "transcript_append", func() error {
		return g.db.WithContext(ctx).
			Where("session_id = ? AND turn_index = ?", sessionID, turnIndex).
			FirstOrCreate(row).Error
	})
}

// AgentResultWrite is idempotent keyed by (session_id, turn_id, result_type).
func (g *Gateway) AgentResultWrite(ctx context.Context, sessionID, turnID string, resultType persistence.NodeKind, resultData []byte, processingTimeMs int64, modelVersion string) error {
	row := &ConsultationAgentResult{
		SessionID:        sessionID,
		TurnID:           turnID,
		ResultType:       string(resultType),
		ResultData:       resultData,
		ProcessingTimeMs: processingTimeMs,
		ModelVersion:     modelVersion,
	}
	return withRetry(ctx, g.logger, "agent_result_write", func() error {
		return g.db.WithContext(ctx).
			Where("session_id = ? AND turn_id = ? AND result_type = ?", sessionID, turnID, resultType).
			FirstOrCreate(row).Error
	})
}

func (g *Gateway) SessionEnd(ctx context.Context, sessionID, finalSummary, consultationType string) (bool, error) {
	now := time.Now()
	var session ConsultationSession
	err := withRetry(ctx, g.logger, "session_end", func() error {
		return g.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error
	})
	if err != nil {
		return false, fmt.Errorf("session_end: lookup: %w", err)
	}
	duration := int64(now.Sub(session.CreatedDate).Seconds())
	err = withRetry(ctx, g.logger, "session_end", func() error {
		return g.db.WithContext(ctx).Model(&ConsultationSession{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
			"ended_at":          now,
			"duration_seconds":  duration,
			"final_summary":     finalSummary,
			"consultation_type": consultationType,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("session_end: update: %w", err)
	}
	return true, nil
}

// SetSessionCustomerRef ties a live session to the customer who just
// joined, so a later CustomerHistory call (for this customer's next
// room) can find it. A no-op for an empty ref or a session that
// hasn't persisted yet (Postgres unreachable at room creation).
func (g *Gateway) SetSessionCustomerRef(ctx context.Context, sessionID, customerRef string) error {
	if sessionID == "" || customerRef == "" {
		return nil
	}
	return withRetry(ctx, g.logger, "set_session_customer_ref", func() error {
		return g.db.WithContext(ctx).Model(&ConsultationSession{}).
			Where("id = ?", sessionID).
			Update("customer_ref", customerRef).Error
	})
}

// CustomerHistory returns the customer's most recent *completed*
// consultations (ended_at set), newest first, capped at limit. The
// in-progress session sharing this customer_ref is excluded since it
// has no ended_at yet.
func (g *Gateway) CustomerHistory(ctx context.Context, customerRef string, limit int) ([]persistence.ConsultationSummary, error) {
	if customerRef == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	var rows []ConsultationSession
	err := withRetry(ctx, g.logger, "customer_history", func() error {
		return g.db.WithContext(ctx).
			Where("customer_ref = ? AND ended_at IS NOT NULL", customerRef).
			Order("created_date desc").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("customer_history: %w", err)
	}

	out := make([]persistence.ConsultationSummary, 0, len(rows))
	for _, r := range rows {
		var endedAt int64
		if r.EndedAt != nil {
			endedAt = r.EndedAt.UnixMilli()
		}
		out = append(out, persistence.ConsultationSummary{
			SessionID:        r.ID,
			RoomName:         r.RoomName,
			FinalSummary:     r.FinalSummary,
			ConsultationType: r.ConsultationType,
			EndedAtUnixMs:    endedAt,
		})
	}
	return out, nil
}

// FAQCacheLookup checks Redis first (hot tier), then Postgres.
// Similarity is computed in-process (cosine) over candidate rows —
// the vector store (OpenSearch) is only consulted by the faq_search
// node on a full miss, not here.
func (g *Gateway) FAQCacheLookup(ctx context.Context, embedding []float32, threshold float64) (*persistence.CacheEntry, error) {
	if g.redis != nil {
		if entry, ok := g.redisLookup(ctx, embedding, threshold); ok {
			return entry, nil
		}
	}

	var rows []ConsultationFAQCache
	if err := g.db.WithContext(ctx).Order("created_date desc").Limit(200).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("faq_cache_lookup: %w", err)
	}

	var best *ConsultationFAQCache
	bestScore := float32(-1)
	for i := range rows {
		score := cosine(embedding, decodeEmbedding(rows[i].QueryEmbedding))
		if score > bestScore {
			bestScore = score
			best = &rows[i]
		}
	}
	if best == nil || float64(bestScore) < threshold {
		return nil, nil
	}

	best.HitCount++
	_ = withRetry(ctx, g.logger, "faq_cache_hit_increment", func() error {
		return g.db.WithContext(ctx).Model(&ConsultationFAQCache{}).Where("id = ?", best.ID).
			Update("hit_count", best.HitCount).Error
	})

	entry := &persistence.CacheEntry{
		Query:         best.Query,
		ResultPayload: best.ResultPayload,
		HitCount:      best.HitCount,
		CreatedAt:     best.CreatedDate.UnixMilli(),
	}
	if g.redis != nil {
		g.redisStore(ctx, entry, embedding)
	}
	return entry, nil
}

func (g *Gateway) FAQCacheInsert(ctx context.Context, entry *persistence.CacheEntry) error {
	row := &ConsultationFAQCache{
		Query:          entry.Query,
		QueryEmbedding: encodeEmbedding(entry.QueryEmbedding),
		ResultPayload:  entry.ResultPayload,
		HitCount:       entry.HitCount,
	}
	err := withRetry(ctx, g.logger, "faq_cache_insert", func() error {
		return g.db.WithContext(ctx).Create(row).Error
	})
	if err != nil {
		return fmt.Errorf("faq_cache_insert: %w", err)
	}
	if g.redis != nil {
		g.redisStore(ctx, entry, entry.QueryEmbedding)
	}
	return nil
}

// ---- Redis hot tier ----

func (g *Gateway) redisKey(query string) string {
	return "faqcache:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(query)).String()
}

func (g *Gateway) redisStore(ctx context.Context, entry *persistence.CacheEntry, embedding []float32) {
	key := g.redisKey(entry.Query)
	if err := g.redis.HSet(ctx, key, map[string]interface{}{
		"payload":   entry.ResultPayload,
		"hit_count": entry.HitCount,
		"embedding": encodeEmbedding(embedding),
	}).Err(); err != nil {
		g.logger.Debugw("redis faq cache store failed", "error", err)
		return
	}
	g.redis.Expire(ctx, key, 24*time.Hour)
}

func (g *Gateway) redisLookup(ctx context.Context, embedding []float32, threshold float64) (*persistence.CacheEntry, bool) {
	iter := g.redis.Scan(ctx, 0, "faqcache:*", 500).Iterator()
	var best *persistence.CacheEntry
	bestScore := float32(-1)
	for iter.Next(ctx) {
		vals, err := g.redis.HGetAll(ctx, iter.Val()).Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		score := cosine(embedding, decodeEmbedding([]byte(vals["embedding"])))
		if score > bestScore {
			bestScore = score
			best = &persistence.CacheEntry{ResultPayload: []byte(vals["payload"])}
		}
	}
	if best == nil || float64(bestScore) < threshold {
		return nil, false
	}
	return best, true
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func encodeEmbedding(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeEmbedding(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
