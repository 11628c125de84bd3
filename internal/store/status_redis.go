package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// statusTTL keeps finished run status around long enough for clients to
// collect reports without accumulating keys forever.
const statusTTL = 7 * 24 * time.Hour

type RedisStatus struct {
	client *redis.Client
	keyNS  string
}

func NewRedisStatus(redisURL string) (*RedisStatus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisStatus{client: c, keyNS: "batch"}, nil
}

func (s *RedisStatus) key(batchID string) string {
	return fmt.Sprintf("%s:%s:status", s.keyNS, batchID)
}

func (s *RedisStatus) Set(ctx context.Context, batchID string, st Status) error {
	m := map[string]interface{}{
		"state":    st.State,
		"progress": strconv.FormatFloat(st.Progress, 'f', 2, 64),
		"message":  st.Message,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Report != nil {
		b, _ := json.Marshal(st.Report)
		m["report"] = string(b)
	}
	key := s.key(batchID)
	if err := s.client.HSet(ctx, key, m).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, statusTTL).Err()
}

func (s *RedisStatus) Get(ctx context.Context, batchID string) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(batchID)).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	st := Status{State: res["state"], Message: res["message"]}
	if p := res["progress"]; p != "" {
		st.Progress, _ = strconv.ParseFloat(p, 64)
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["report"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Report)
	}
	return st, true, nil
}

func (s *RedisStatus) Close() error { return s.client.Close() }
