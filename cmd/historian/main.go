// cmd/historian/main.go is an asynchronous historian service that pops lobby
// lifecycle events from the Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/halocustoms/lobbyd/internal/database"
	"github.com/halocustoms/lobbyd/internal/events"
	"github.com/halocustoms/lobbyd/internal/lobby"
)

// HistorianService encapsulates the Redis + DB logic for archiving lobby
// events. Records are accumulated in memory and flushed in batches.
type HistorianService struct {
	redisClient *redis.Client
	queueName   string
	batchSize   int
	flushDelay  time.Duration

	batchMu  sync.Mutex
	batch    []lobby.Event
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewHistorianService constructs a HistorianService from environment
// variables or defaults.
func NewHistorianService() *HistorianService {
	batchSize := getEnvInt("HISTORIAN_BATCH_SIZE", 20)
	flushMs := getEnvInt("HISTORIAN_FLUSH_MS", 500)

	rdb := redis.NewClient(&redis.Options{
		Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		DB:   getEnvInt("REDIS_DB", 0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &HistorianService{
		redisClient: rdb,
		queueName:   getEnv("EVENTS_QUEUE_NAME", events.DefaultQueueName),
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		batch:       make([]lobby.Event, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run connects to the database and consumes the queue until stopped. A final
// flush runs on shutdown so nothing popped from Redis is lost.
func (hs *HistorianService) Run() {
	database.ConnectDB()

	go hs.readRedisLoop()

	log.Println("lobbyd-historian service started.")
	<-hs.ctx.Done()
	hs.flushBatchToDB()
	log.Println("lobbyd-historian shutting down.")
}

// readRedisLoop continuously uses BLPop to retrieve events from the queue.
func (hs *HistorianService) readRedisLoop() {
	ticker := time.NewTicker(hs.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-hs.ctx.Done():
			return

		case <-ticker.C:
			hs.flushBatchToDB()

		default:
			// BLPop with a short timeout so context cancellation is handled.
			res, err := hs.redisClient.BLPop(hs.ctx, 3*time.Second, hs.queueName).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				log.Printf("[ERROR] BLPop: %v\n", err)
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var evt lobby.Event
			if err := json.Unmarshal([]byte(res[1]), &evt); err != nil {
				log.Printf("invalid lobby event: %v\n", err)
				continue
			}
			hs.appendToBatch(evt)
		}
	}
}

// appendToBatch adds an event to the in-memory batch and flushes if the
// threshold is reached.
func (hs *HistorianService) appendToBatch(evt lobby.Event) {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()

	hs.batch = append(hs.batch, evt)
	if len(hs.batch) >= hs.batchSize {
		hs.flushBatchUnsafe()
	}
}

// flushBatchToDB flushes the current batch in a single transaction.
func (hs *HistorianService) flushBatchToDB() {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	hs.flushBatchUnsafe()
}

// flushBatchUnsafe assumes batchMu is held.
func (hs *HistorianService) flushBatchUnsafe() {
	if len(hs.batch) == 0 {
		return
	}
	batchCopy := make([]lobby.Event, len(hs.batch))
	copy(batchCopy, hs.batch)
	hs.batch = hs.batch[:0]

	ctx := context.Background()
	err := beginTxFunc(ctx, database.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, evt := range batchCopy {
			if err := insertLobbyEventTx(ctx, tx, evt); err != nil {
				return fmt.Errorf("insertLobbyEventTx: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[ERROR] flush batch: %v\n", err)
	} else {
		log.Printf("Flushed %d lobby events to DB.\n", len(batchCopy))
	}
}

// insertLobbyEventTx appends a single event to the lobby_events audit table.
func insertLobbyEventTx(ctx context.Context, tx pgx.Tx, evt lobby.Event) error {
	q := `
		INSERT INTO lobby_events (
			event_type, guild_id, lobby_name, actor_id, target_id, detail, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	detail, err := json.Marshal(evt.Detail)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, q,
		evt.Type, evt.GuildID, evt.Lobby, evt.ActorID, evt.TargetID, detail, evt.At,
	)
	return err
}

// beginTxFunc starts a transaction on the pool, calls f with it, and commits
// or rolls back as needed.
func beginTxFunc(ctx context.Context, pool *pgxpool.Pool, txOptions pgx.TxOptions, f func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx rollback error: %v; original error: %w", rbErr, err)
		}
		return err
	}
	return tx.Commit(ctx)
}

// Stop gracefully stops the historian service.
func (hs *HistorianService) Stop() {
	hs.cancelFn()
}

func main() {
	hs := NewHistorianService()
	go hs.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	hs.Stop()
	log.Println("Historian shutdown complete.")
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer environment variable or returns a default.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}
