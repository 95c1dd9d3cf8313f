// Package device provides Redis access to controller state: the topology
// view, switch counters, southbound flow intents and circuit records.
//
// Every database follows the SONiC layout of one hash per entry, keyed
// "<TABLE><sep><key>". Most databases use '|' as the separator; APPL_DB
// uses ':'.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/eline/pkg/util"
)

// Key separators
const (
	PipeSeparator  = "|"
	ColonSeparator = ":"
)

// TableChange represents a single change for pipeline execution.
type TableChange struct {
	Table  string
	Key    string
	Fields map[string]string // nil means delete
}

// Client wraps a Redis client bound to one logical database.
type Client struct {
	client *redis.Client
	sep    string
	db     int
}

// NewClient creates a client for database db at addr.
func NewClient(addr, password string, db int, sep string) *Client {
	return &Client{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		sep: sep,
		db:  db,
	}
}

// NewClientFrom wraps an existing go-redis client.
func NewClientFrom(rc *redis.Client, sep string) *Client {
	return &Client{client: rc, sep: sep, db: rc.Options().DB}
}

// Connect pings the server, retrying with exponential backoff until
// timeout elapses or ctx is cancelled.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.client.Ping(ctx).Err()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			util.WithField("db", c.db).Warnf("redis not ready, retrying in %s: %v", next.Round(time.Millisecond), err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: redis db %d: %v", util.ErrNotConnected, c.db, err)
	}
	return nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Key joins a table name and key parts with the database separator.
func (c *Client) Key(table string, parts ...string) string {
	return table + c.sep + strings.Join(parts, c.sep)
}

// SplitKey strips the table prefix from a full Redis key.
func (c *Client) SplitKey(table, redisKey string) (string, bool) {
	return strings.CutPrefix(redisKey, table+c.sep)
}

// Get reads a table entry. A missing entry yields an empty map.
func (c *Client) Get(ctx context.Context, table, key string) (map[string]string, error) {
	return c.client.HGetAll(ctx, c.Key(table, key)).Result()
}

// Set writes a table entry in a single HSET.
func (c *Client) Set(ctx context.Context, table, key string, fields map[string]string) error {
	redisKey := c.Key(table, key)
	if len(fields) == 0 {
		return c.client.HSet(ctx, redisKey, "NULL", "NULL").Err()
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return c.client.HSet(ctx, redisKey, args...).Err()
}

// Delete removes a table entry
func (c *Client) Delete(ctx context.Context, table, key string) error {
	return c.client.Del(ctx, c.Key(table, key)).Err()
}

// Exists checks if a key exists
func (c *Client) Exists(ctx context.Context, table, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.Key(table, key)).Result()
	return n > 0, err
}

// TableKeys returns the entry keys (table prefix removed) whose full key
// matches the table prefix and the optional glob suffix.
func (c *Client) TableKeys(ctx context.Context, table, glob string) ([]string, error) {
	if glob == "" {
		glob = "*"
	}
	full, err := scanKeys(ctx, c.client, table+c.sep+glob, 100)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", table, err)
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		if entry, ok := c.SplitKey(table, k); ok {
			keys = append(keys, entry)
		}
	}
	return keys, nil
}

// GetTable reads every entry of a table with one pipelined round trip.
// The result maps entry key to fields.
func (c *Client) GetTable(ctx context.Context, table string) (map[string]map[string]string, error) {
	keys, err := c.TableKeys(ctx, table, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, c.Key(table, k))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	for i, k := range keys {
		vals, err := cmds[i].Result()
		if err != nil || len(vals) == 0 {
			// Entry vanished between SCAN and HGETALL.
			continue
		}
		out[k] = vals
	}
	return out, nil
}

// PipelineSet writes multiple entries atomically via a MULTI/EXEC pipeline.
func (c *Client) PipelineSet(ctx context.Context, changes []TableChange) error {
	if len(changes) == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	for _, change := range changes {
		redisKey := c.Key(change.Table, change.Key)
		switch {
		case change.Fields == nil:
			pipe.Del(ctx, redisKey)
		case len(change.Fields) == 0:
			pipe.HSet(ctx, redisKey, "NULL", "NULL")
		default:
			args := make([]interface{}, 0, len(change.Fields)*2)
			for k, v := range change.Fields {
				args = append(args, k, v)
			}
			pipe.HSet(ctx, redisKey, args...)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("pipeline exec: %w", err)
	}
	return nil
}

// scanKeys iterates Redis keys matching the given pattern using cursor-based
// SCAN instead of the blocking O(N) KEYS command. The count hint controls
// how many keys Redis returns per iteration (not an exact limit).
func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, nextCursor, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
