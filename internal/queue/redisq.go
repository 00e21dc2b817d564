package queue

import (
	"context"
	"errors"
	"time"

	r "github.com/redis/go-redis/v9"
)

const brpopBlock = 5 * time.Second

// RedisQ is a Queue on a single Redis list. LPush/BRPop keeps arrival order.
type RedisQ struct {
	rdb  *r.Client
	name string
}

func NewRedis(rdb *r.Client, name string) *RedisQ {
	return &RedisQ{rdb: rdb, name: "queue:" + name}
}

func (q *RedisQ) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.name, jobID).Err()
}

// Dequeue blocks on BRPOP in short rounds so that ctx cancellation is
// noticed between blocks.
func (q *RedisQ) Dequeue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := q.rdb.BRPop(ctx, brpopBlock, q.name).Result()
		if errors.Is(err, r.Nil) {
			continue
		}
		if err != nil {
			return "", err
		}
		if len(res) == 2 {
			return res[1], nil
		}
	}
}
