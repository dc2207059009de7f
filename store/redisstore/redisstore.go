// Package redisstore implements store.Store on Redis so that several worker
// processes can share one cache.
//
// Keys, for a prefix P:
//
//	P:entry:<key>   JSON-encoded store.Entry
//	P:created       hash key -> created_at (unix microseconds)
//	P:access        hash key -> last_accessed_at (unix microseconds)
//	P:hits          hash key -> hit count
//	P:meta          hash key -> {"query_text", "context", "size_bytes"}
//
// Reads that bump counters and guarded evictions run as Lua scripts so each
// is atomic on the server.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sightserver/querycache/observe"
	"github.com/sightserver/querycache/store"
)

// DefaultPrefix namespaces all keys written by the store.
const DefaultPrefix = "querycache"

// getScript returns the entry and bumps access bookkeeping unless the entry
// is missing or older than ARGV[3].
var getScript = redis.NewScript(`
local entry = redis.call('GET', KEYS[1])
if not entry then return false end
local created = redis.call('HGET', KEYS[2], ARGV[1])
if not created then return false end
if tonumber(created) < tonumber(ARGV[3]) then return false end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
local hits = redis.call('HINCRBY', KEYS[4], ARGV[1], 1)
return {entry, created, tostring(hits)}
`)

// evictScript deletes an entry only if its created_at still matches.
var evictScript = redis.NewScript(`
local created = redis.call('HGET', KEYS[2], ARGV[1])
if created ~= ARGV[2] then return 0 end
redis.call('DEL', KEYS[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
return 1
`)

// Options configures a Redis Store.
type Options struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces keys. Defaults to DefaultPrefix.
	Prefix string

	Policy store.Policy
	Logger observe.Logger
	Now    func() time.Time
}

// Store is a Redis-backed store.
type Store struct {
	client redis.UniversalClient
	owned  bool
	prefix string
	policy store.Policy
	logger observe.Logger
	now    func() time.Time
}

type meta struct {
	QueryText string          `json:"query_text"`
	Context   json.RawMessage `json:"context"`
	SizeBytes int64           `json:"size_bytes"`
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", store.ErrStorage, opts.Addr, err)
	}
	s, err := New(client, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client redis.UniversalClient, opts Options) (*Store, error) {
	if client == nil {
		return nil, errors.New("redisstore: client is nil")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		client: client,
		prefix: opts.Prefix,
		policy: opts.Policy,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = observe.NopLogger()
	}
	return s, nil
}

// Client exposes the underlying client for health checks.
func (s *Store) Client() redis.UniversalClient { return s.client }

func (s *Store) entryKey(key string) string { return s.prefix + ":entry:" + key }
func (s *Store) createdKey() string         { return s.prefix + ":created" }
func (s *Store) accessKey() string          { return s.prefix + ":access" }
func (s *Store) hitsKey() string            { return s.prefix + ":hits" }
func (s *Store) metaKey() string            { return s.prefix + ":meta" }

// Get returns the entry and records the access atomically.
func (s *Store) Get(ctx context.Context, key string) (store.Entry, bool) {
	if store.ValidateKey(key) != nil {
		return store.Entry{}, false
	}
	now := s.now()
	minCreated := int64(0)
	if s.policy.TTL > 0 {
		minCreated = toMicros(now.Add(-s.policy.TTL))
	}

	res, err := getScript.Run(ctx, s.client,
		[]string{s.entryKey(key), s.createdKey(), s.accessKey(), s.hitsKey()},
		key, toMicros(now), minCreated,
	).Slice()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn(ctx, "redisstore: lookup failed, treating as miss",
				observe.Field{Key: "key", Value: key},
				observe.Err(err))
		}
		return store.Entry{}, false
	}
	if len(res) != 3 {
		return store.Entry{}, false
	}

	raw, _ := res[0].(string)
	var e store.Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		s.logger.Warn(ctx, "redisstore: corrupt entry treated as miss",
			observe.Field{Key: "key", Value: key},
			observe.Err(err))
		return store.Entry{}, false
	}
	created, _ := strconv.ParseInt(fmt.Sprint(res[1]), 10, 64)
	hits, _ := strconv.ParseInt(fmt.Sprint(res[2]), 10, 64)
	e.CreatedAt = fromMicros(created)
	e.LastAccessedAt = fromMicros(toMicros(now))
	e.HitCount = hits
	return e, true
}

// Set writes the entry and its bookkeeping in one MULTI/EXEC.
func (s *Store) Set(ctx context.Context, e store.Entry) error {
	if err := store.ValidateKey(e.Key); err != nil {
		return err
	}
	now := fromMicros(toMicros(s.now()))
	e = e.Clone()
	e.CreatedAt = fromMicros(toMicros(store.CreationTime(e.CreatedAt, now)))
	e.LastAccessedAt = now
	e.HitCount = 0
	e.SizeBytes = store.SizeOf(e)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: encode entry %s: %w", store.ErrStorage, e.Key, err)
	}
	m, _ := json.Marshal(meta{QueryText: e.QueryText, Context: e.Context, SizeBytes: e.SizeBytes})
	micros := toMicros(now)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(e.Key), data, 0)
		pipe.HSet(ctx, s.createdKey(), e.Key, toMicros(e.CreatedAt))
		pipe.HSet(ctx, s.accessKey(), e.Key, micros)
		pipe.HSet(ctx, s.metaKey(), e.Key, m)
		pipe.HSetNX(ctx, s.hitsKey(), e.Key, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", store.ErrStorage, e.Key, err)
	}
	return nil
}

// Delete removes the entry and its bookkeeping.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.entryKey(key))
		pipe.HDel(ctx, s.createdKey(), key)
		pipe.HDel(ctx, s.accessKey(), key)
		pipe.HDel(ctx, s.hitsKey(), key)
		pipe.HDel(ctx, s.metaKey(), key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: delete %s: %w", store.ErrStorage, key, err)
	}
	return del.Val() > 0, nil
}

// Evict applies the policy with created_at-guarded deletes.
func (s *Store) Evict(ctx context.Context) ([]store.Eviction, error) {
	rows, err := s.Rows(ctx)
	if err != nil {
		return nil, err
	}
	plan := store.PlanEviction(rows, s.policy, s.now())

	var done []store.Eviction
	for _, ev := range plan {
		n, err := evictScript.Run(ctx, s.client,
			[]string{s.entryKey(ev.Key), s.createdKey(), s.accessKey(), s.hitsKey(), s.metaKey()},
			ev.Key, strconv.FormatInt(toMicros(ev.CreatedAt), 10),
		).Int()
		if err != nil {
			return done, fmt.Errorf("%w: evict %s: %w", store.ErrStorage, ev.Key, err)
		}
		if n > 0 {
			done = append(done, ev)
		}
	}
	return done, nil
}

// Load reconciles the bookkeeping hashes with the entry keys.
func (s *Store) Load(ctx context.Context) (store.LoadReport, error) {
	var report store.LoadReport

	entryKeys, err := s.scanEntryKeys(ctx)
	if err != nil {
		return report, err
	}
	indexed, err := s.client.HGetAll(ctx, s.createdKey()).Result()
	if err != nil {
		return report, fmt.Errorf("%w: read index: %w", store.ErrStorage, err)
	}

	for key := range indexed {
		if _, ok := entryKeys[key]; ok {
			continue
		}
		if _, err := s.Delete(ctx, key); err != nil {
			return report, err
		}
		report.DroppedRows = append(report.DroppedRows, key)
	}

	for key := range entryKeys {
		if _, ok := indexed[key]; ok {
			continue
		}
		raw, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("%w: read %s: %w", store.ErrStorage, key, err)
		}
		var e store.Entry
		if err := json.Unmarshal(raw, &e); err != nil || e.Key != key {
			if _, err := s.Delete(ctx, key); err != nil {
				return report, err
			}
			report.CorruptEntries = append(report.CorruptEntries, key)
			continue
		}
		if err := s.adopt(ctx, e); err != nil {
			return report, err
		}
		report.AdoptedEntries = append(report.AdoptedEntries, key)
	}

	n, err := s.client.HLen(ctx, s.createdKey()).Result()
	if err != nil {
		return report, fmt.Errorf("%w: count: %w", store.ErrStorage, err)
	}
	report.Entries = int(n)
	return report, nil
}

func (s *Store) adopt(ctx context.Context, e store.Entry) error {
	m, _ := json.Marshal(meta{QueryText: e.QueryText, Context: e.Context, SizeBytes: e.SizeBytes})
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.createdKey(), e.Key, toMicros(e.CreatedAt))
		pipe.HSet(ctx, s.accessKey(), e.Key, toMicros(e.LastAccessedAt))
		pipe.HSet(ctx, s.metaKey(), e.Key, m)
		pipe.HSetNX(ctx, s.hitsKey(), e.Key, e.HitCount)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: adopt %s: %w", store.ErrStorage, e.Key, err)
	}
	return nil
}

func (s *Store) scanEntryKeys(ctx context.Context) (map[string]struct{}, error) {
	prefix := s.entryKey("")
	keys := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys[iter.Val()[len(prefix):]] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan: %w", store.ErrStorage, err)
	}
	return keys, nil
}

// Rows returns a snapshot of the index ordered by key.
func (s *Store) Rows(ctx context.Context) ([]store.IndexRow, error) {
	pipe := s.client.Pipeline()
	created := pipe.HGetAll(ctx, s.createdKey())
	access := pipe.HGetAll(ctx, s.accessKey())
	hits := pipe.HGetAll(ctx, s.hitsKey())
	metas := pipe.HGetAll(ctx, s.metaKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: list: %w", store.ErrStorage, err)
	}

	rows := make([]store.IndexRow, 0, len(created.Val()))
	for key, c := range created.Val() {
		row := store.IndexRow{Key: key}
		row.CreatedAt = fromMicros(parseInt(c))
		row.LastAccessedAt = fromMicros(parseInt(access.Val()[key]))
		row.HitCount = parseInt(hits.Val()[key])
		var m meta
		if raw, ok := metas.Val()[key]; ok {
			_ = json.Unmarshal([]byte(raw), &m)
		}
		row.QueryText = m.QueryText
		row.Context = m.Context
		row.SizeBytes = m.SizeBytes
		rows = append(rows, row)
	}
	store.SortRows(rows)
	return rows, nil
}

// Stats summarizes the store.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	rows, err := s.Rows(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	return store.StatsOf(rows, s.now()), nil
}

// Clear removes all entries under the prefix.
func (s *Store) Clear(ctx context.Context) (int, error) {
	keys, err := s.scanEntryKeys(ctx)
	if err != nil {
		return 0, err
	}
	n, err := s.client.HLen(ctx, s.createdKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", store.ErrStorage, err)
	}

	del := []string{s.createdKey(), s.accessKey(), s.hitsKey(), s.metaKey()}
	for key := range keys {
		del = append(del, s.entryKey(key))
	}
	if err := s.client.Del(ctx, del...).Err(); err != nil {
		return 0, fmt.Errorf("%w: clear: %w", store.ErrStorage, err)
	}
	return int(n), nil
}

// Close closes the client if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(n int64) time.Time { return time.UnixMicro(n).UTC() }

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Ensure Store implements store.Store
var _ store.Store = (*Store)(nil)
