package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisAuditRepo stores each record as JSON and keeps two sorted-set indexes
// scored by LoggedAt in unix milliseconds:
//
//	<prefix>:record:<id>        record JSON
//	<prefix>:trace:<traceId>    ids of one trace
//	<prefix>:app:<name>         ids of one application
type RedisAuditRepo struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisAuditRepo keeps records for ttl; ttl <= 0 keeps them forever.
func NewRedisAuditRepo(client *redis.Client, prefix string, ttl time.Duration) *RedisAuditRepo {
	if prefix == "" {
		prefix = "audit"
	}
	return &RedisAuditRepo{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisAuditRepo) recordKey(id string) string { return r.prefix + ":record:" + id }
func (r *RedisAuditRepo) traceKey(id string) string  { return r.prefix + ":trace:" + id }
func (r *RedisAuditRepo) appKey(name string) string  { return r.prefix + ":app:" + name }
func score(rec model.AuditRecord) float64            { return float64(rec.LoggedAt.UnixMilli()) }

func (r *RedisAuditRepo) Add(ctx context.Context, rec model.AuditRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	member := redis.Z{Score: score(rec), Member: rec.ID}
	traceKey := r.traceKey(rec.TraceID)
	appKey := r.appKey(rec.ApplicationName)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.recordKey(rec.ID), payload, r.ttl)
	pipe.ZAdd(ctx, traceKey, member)
	pipe.ZAdd(ctx, appKey, member)
	if r.ttl > 0 {
		pipe.Expire(ctx, traceKey, r.ttl)
		pipe.Expire(ctx, appKey, r.ttl)
		// ids whose record already expired
		cutoff := time.Now().Add(-r.ttl).UnixMilli()
		pipe.ZRemRangeByScore(ctx, appKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store audit record: %w", err)
	}
	return nil
}

func (r *RedisAuditRepo) GetByTraceID(ctx context.Context, traceID string) ([]model.AuditRecord, error) {
	ids, err := r.client.ZRange(ctx, r.traceKey(traceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query trace index: %w", err)
	}
	records, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LoggedAt.Before(records[j].LoggedAt)
	})
	return records, nil
}

func (r *RedisAuditRepo) GetByApplicationName(ctx context.Context, name string, page, pageSize int) ([]model.AuditRecord, error) {
	if page < 1 || pageSize < 1 {
		return nil, ErrInvalidPage
	}
	start := int64(pageOffset(page, pageSize))
	stop := start + int64(pageSize) - 1
	ids, err := r.client.ZRevRange(ctx, r.appKey(name), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("query application index: %w", err)
	}
	return r.load(ctx, ids)
}

func (r *RedisAuditRepo) load(ctx context.Context, ids []string) ([]model.AuditRecord, error) {
	if len(ids) == 0 {
		return []model.AuditRecord{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load audit records: %w", err)
	}
	return decodeRecords(values)
}

// decodeRecords skips ids whose record has expired.
func decodeRecords(values []interface{}) ([]model.AuditRecord, error) {
	records := make([]model.AuditRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec model.AuditRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
