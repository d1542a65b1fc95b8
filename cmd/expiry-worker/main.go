package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"

	"github.com/cinetick/movie-bookings/internal/adapters/crdb"
	"github.com/cinetick/movie-bookings/internal/adapters/rabbit"
	redisadapter "github.com/cinetick/movie-bookings/internal/adapters/redis"
	"github.com/cinetick/movie-bookings/internal/config"
	"github.com/cinetick/movie-bookings/internal/domain"
	"github.com/cinetick/movie-bookings/internal/observability"
)

// The reaper is an optimization: every read already treats a lock with
// expires_at <= now as available, so nothing here is required for
// correctness. It keeps the seat_locks table compact and tells clients
// their hold lapsed.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger("expiry-worker")

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	store := crdb.NewStore(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	seatCache := redisadapter.NewCache(redisClient)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	worker := NewExpiryWorker(store, seatCache, rabbitPub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, time.Minute)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

type ExpiryWorker struct {
	store     *crdb.Store
	seatCache *redisadapter.Cache
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewExpiryWorker(store *crdb.Store, seatCache *redisadapter.Cache, rabbitPub *rabbit.Publisher, logger observability.Logger) *ExpiryWorker {
	return &ExpiryWorker{store: store, seatCache: seatCache, rabbitPub: rabbitPub, logger: logger}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			locks, err := w.store.ExpiredLocks(ctx, now.UTC(), 100)
			if err != nil {
				w.logger.Error("failed to get expired locks", err)
				continue
			}
			for _, lock := range locks {
				if err := w.reapWithRetry(ctx, lock); err != nil {
					w.logger.Error("failed to reap expired lock after retries", err)
				}
			}
		}
	}
}

func (w *ExpiryWorker) reapWithRetry(ctx context.Context, lock domain.SeatLock) error {
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		if err := w.store.ExpireLock(ctx, lock.ID); err != nil {
			backoff := time.Duration(1<<i) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}

		for _, seat := range lock.Seats {
			if err := w.seatCache.DropSeatLock(ctx, lock.ShowingID.String(), seat); err != nil {
				w.logger.Warn("failed to drop seat cache key", err)
			}
		}
		observability.LocksReaped.Inc()

		payload, _ := json.Marshal(map[string]interface{}{
			"lock_id":    lock.ID,
			"showing_id": lock.ShowingID,
			"seats":      lock.Seats,
		})
		msg := amqp.Publishing{
			MessageId:   lock.ID.String() + ":expired",
			ContentType: "application/json",
			Body:        payload,
		}
		return w.rabbitPub.Publish(ctx, "lock.expired", msg)
	}
	return fmt.Errorf("failed after %d retries", maxRetries)
}
