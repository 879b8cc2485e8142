// internal/events/publisher.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/halocustoms/lobbyd/internal/lobby"
)

// DefaultQueueName is the Redis list that carries lobby lifecycle records
// for the historian service.
var DefaultQueueName = "lobbyd_events"

// Publisher pushes lobby events onto a Redis queue. It sits strictly off
// the mutation path: a slow or dead Redis costs a log line, never a failed
// lobby operation.
type Publisher struct {
	rdb    *redis.Client
	queue  string
	logger *logrus.Logger
}

// Connect initializes a Publisher from environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
//   - EVENTS_QUEUE_NAME (default DefaultQueueName)
func Connect(logger *logrus.Logger) (*Publisher, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Publisher{
		rdb:    rdb,
		queue:  getEnv("EVENTS_QUEUE_NAME", DefaultQueueName),
		logger: logger,
	}, nil
}

// Record implements lobby.EventSink. Serialization or push failures are
// logged and dropped.
func (p *Publisher) Record(evt lobby.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.WithError(err).Warn("failed to marshal lobby event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		p.logger.WithError(err).WithField("queue", p.queue).Warn("failed to push lobby event")
	}
}

// Close releases the Redis client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
