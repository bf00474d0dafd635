package mapoutput

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
)

// RedisTracker persists shuffle location metadata cluster-wide, so every
// scheduler process (and every would-be task scheduler) sees the same map
// outputs. Each shuffle's outputs live in a Redis hash keyed
// "mapout:outputs:{shuffleId}" with field mapId and a JSON-encoded
// TaskLocation value; NumPartitions ("mapout:numpartitions:{shuffleId}") and
// the global epoch ("mapout:epoch") live in plain string keys.
type RedisTracker struct {
	log *logger.Logger
	rdb *goredis.Client
	ctx context.Context
}

// NewRedisTracker dials addr and verifies connectivity before returning.
func NewRedisTracker(ctx context.Context, addr string, log *logger.Logger) (*RedisTracker, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("mapoutput: redis ping: %w", err)
	}
	return &RedisTracker{
		log: log.With("component", "mapoutput.RedisTracker"),
		rdb: rdb,
		ctx: ctx,
	}, nil
}

func (t *RedisTracker) numPartitionsKey(shuffleID domain.ShuffleID) string {
	return fmt.Sprintf("mapout:numpartitions:%d", shuffleID)
}

func (t *RedisTracker) outputsKey(shuffleID domain.ShuffleID) string {
	return fmt.Sprintf("mapout:outputs:%d", shuffleID)
}

func (t *RedisTracker) epochKey() string { return "mapout:epoch" }

func (t *RedisTracker) RegisterShuffle(shuffleID domain.ShuffleID, numMapPartitions int) error {
	ok, err := t.rdb.SetNX(t.ctx, t.numPartitionsKey(shuffleID), numMapPartitions, 0).Result()
	if err != nil {
		return fmt.Errorf("mapoutput: register shuffle %d: %w", shuffleID, err)
	}
	if !ok {
		return nil
	}
	return nil
}

func (t *RedisTracker) RegisterMapOutput(shuffleID domain.ShuffleID, mapID int64, loc domain.TaskLocation) error {
	raw, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("mapoutput: encode location: %w", err)
	}
	if err := t.rdb.HSet(t.ctx, t.outputsKey(shuffleID), strconv.FormatInt(mapID, 10), raw).Err(); err != nil {
		return fmt.Errorf("mapoutput: register map output shuffle=%d map=%d: %w", shuffleID, mapID, err)
	}
	return nil
}

func (t *RedisTracker) UnregisterMapOutput(shuffleID domain.ShuffleID, mapID int64) error {
	if err := t.rdb.HDel(t.ctx, t.outputsKey(shuffleID), strconv.FormatInt(mapID, 10)).Err(); err != nil {
		return fmt.Errorf("mapoutput: unregister map output shuffle=%d map=%d: %w", shuffleID, mapID, err)
	}
	return nil
}

func (t *RedisTracker) UnregisterAllMapOutput(shuffleID domain.ShuffleID) error {
	if err := t.rdb.Del(t.ctx, t.outputsKey(shuffleID)).Err(); err != nil {
		return fmt.Errorf("mapoutput: unregister all outputs for shuffle=%d: %w", shuffleID, err)
	}
	return nil
}

func (t *RedisTracker) RemoveOutputsOnHost(host string) error {
	return t.removeOutputsMatching(func(loc domain.TaskLocation) bool { return loc.Host == host })
}

func (t *RedisTracker) RemoveOutputsOnExecutor(execID domain.ExecutorID) error {
	return t.removeOutputsMatching(func(loc domain.TaskLocation) bool { return loc.ExecutorID == string(execID) })
}

// removeOutputsMatching scans every registered shuffle's output hash. This
// is O(shuffles x outputs); acceptable because host/executor removal is a
// rare, failure-triggered event, not a hot path.
func (t *RedisTracker) removeOutputsMatching(match func(domain.TaskLocation) bool) error {
	var cursor uint64
	for {
		keys, next, err := t.rdb.Scan(t.ctx, cursor, "mapout:outputs:*", 100).Result()
		if err != nil {
			return fmt.Errorf("mapoutput: scan outputs: %w", err)
		}
		for _, key := range keys {
			fields, err := t.rdb.HGetAll(t.ctx, key).Result()
			if err != nil {
				return fmt.Errorf("mapoutput: hgetall %s: %w", key, err)
			}
			for mapID, raw := range fields {
				var loc domain.TaskLocation
				if err := json.Unmarshal([]byte(raw), &loc); err != nil {
					continue
				}
				if match(loc) {
					if err := t.rdb.HDel(t.ctx, key, mapID).Err(); err != nil {
						return fmt.Errorf("mapoutput: hdel %s %s: %w", key, mapID, err)
					}
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (t *RedisTracker) ContainsShuffle(shuffleID domain.ShuffleID) bool {
	n, err := t.rdb.Exists(t.ctx, t.numPartitionsKey(shuffleID)).Result()
	return err == nil && n > 0
}

func (t *RedisTracker) NumAvailableOutputs(shuffleID domain.ShuffleID) int {
	n, err := t.rdb.HLen(t.ctx, t.outputsKey(shuffleID)).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func (t *RedisTracker) MissingMapIDs(shuffleID domain.ShuffleID, numMapPartitions int) []int64 {
	fields, err := t.rdb.HKeys(t.ctx, t.outputsKey(shuffleID)).Result()
	if err != nil {
		t.log.Warn("failed to list registered map outputs", "shuffle_id", shuffleID, "error", err)
		fields = nil
	}
	present := make(map[int64]bool, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		present[id] = true
	}
	var missing []int64
	for id := int64(0); id < int64(numMapPartitions); id++ {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func (t *RedisTracker) GetStatistics(shuffleID domain.ShuffleID) (*MapOutputStatistics, error) {
	declared, err := t.rdb.Get(t.ctx, t.numPartitionsKey(shuffleID)).Int()
	if err != nil {
		return nil, fmt.Errorf("mapoutput: shuffle %d not registered: %w", shuffleID, err)
	}
	n := t.NumAvailableOutputs(shuffleID)
	if n != declared {
		return nil, fmt.Errorf("mapoutput: shuffle %d is not fully available (%d/%d)", shuffleID, n, declared)
	}
	return &MapOutputStatistics{ShuffleID: shuffleID, BytesByPartition: make([]int64, declared)}, nil
}

func (t *RedisTracker) IncrementEpoch() {
	if err := t.rdb.Incr(t.ctx, t.epochKey()).Err(); err != nil {
		t.log.Warn("failed to increment map-output epoch", "error", err)
	}
}

func (t *RedisTracker) GetEpoch() domain.Epoch {
	v, err := t.rdb.Get(t.ctx, t.epochKey()).Int64()
	if err != nil {
		return 0
	}
	return domain.Epoch(v)
}

func (t *RedisTracker) Close() error { return t.rdb.Close() }
