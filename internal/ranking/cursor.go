package ranking

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// BlockCursor persists a named tracker's last processed block height. A
// missing key reads as -1 so a fresh deployment starts from the genesis of
// its scan range.
type BlockCursor struct {
	rdb  *redis.Client
	name string
}

func NewBlockCursor(rdb *redis.Client, name string) *BlockCursor {
	return &BlockCursor{rdb: rdb, name: name}
}

func (c *BlockCursor) key() string {
	return fmt.Sprintf("block_tracker:%s:last_processed_block", c.name)
}

func (c *BlockCursor) Get(ctx context.Context) (int64, error) {
	v, err := c.rdb.Get(ctx, c.key()).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return 0, ioErr("get cursor", err)
	}
	height, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad cursor %q", ErrCacheIO, v)
	}
	return height, nil
}

func (c *BlockCursor) Set(ctx context.Context, height int64) error {
	if err := c.rdb.Set(ctx, c.key(), strconv.FormatInt(height, 10), 0).Err(); err != nil {
		return ioErr("set cursor", err)
	}
	return nil
}
