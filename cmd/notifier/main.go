package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/cinetick/movie-bookings/internal/adapters/mongo"
	"github.com/cinetick/movie-bookings/internal/adapters/rabbit"
	"github.com/cinetick/movie-bookings/internal/config"
	"github.com/cinetick/movie-bookings/internal/observability"
)

// notifier consumes booking lifecycle events and records them in the
// audit log. Notification channels (email, push) hang off the same
// queue later.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger("notifier")

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("moviebookings"), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, "notifier.q", "#")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	go func() {
		for d := range deliveries {
			err := audit.LogRaw(ctx, d.RoutingKey, d.Body)
			ack, requeue := disposition(err, d.Redelivered)
			if ack {
				d.Ack(false)
				continue
			}
			if !requeue {
				logger.WithField("routing_key", d.RoutingKey).Error("dropping message after redelivery", err)
			}
			d.Nack(false, requeue)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	logger.Info("Shutdown notifier")
}

// disposition decides what to do with a delivery. A failure is retried
// once via requeue; a redelivered failure is dropped so a poison
// message cannot loop forever.
func disposition(err error, redelivered bool) (ack, requeue bool) {
	if err == nil {
		return true, false
	}
	return false, !redelivered
}
