package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mindgrove/companion/internal/chat"
	"github.com/mindgrove/companion/internal/config"
	"github.com/mindgrove/companion/internal/db"
	"github.com/mindgrove/companion/internal/httpapi/handlers"
	"github.com/mindgrove/companion/internal/insight"
	"github.com/mindgrove/companion/internal/store/rabbitmq"
	"github.com/mindgrove/companion/internal/store/redisstore"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer func() { _ = rds.Close() }()

	reg := handlers.BuildRegistry(cfg)
	name, model := handlers.DefaultProvider(cfg)

	insightRepo := insight.NewRepo(gdb)
	reducer := insight.NewReducer(insightRepo, chat.NewRepo(gdb), reg, name, model, cfg.ProviderTimeout, logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		sugar.Fatalw("rabbit dial failed", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		sugar.Fatalw("rabbit channel failed", "err", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue, cfg.RabbitRetryTTL); err != nil {
		sugar.Fatalw("queue declare failed", "err", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		sugar.Fatalw("qos failed", "err", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		sugar.Fatalw("consume failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.ReduceMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					sugar.Warnw("bad message", "worker", workerID, "err", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, reducer, insightRepo, rds, m.JobID); err != nil {
					sugar.Warnw("job failed", "worker", workerID, "job_id", m.JobID,
						"cost", time.Since(start), "err", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					sugar.Warnw("ack failed", "worker", workerID, "job_id", m.JobID, "err", err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			sugar.Infow("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				sugar.Warnw("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleJob(ctx context.Context, reducer *insight.Reducer, repo *insight.Repo, rds *redisstore.Store, jobID string) error {
	_ = repo.UpdateJobStatusRunning(ctx, jobID)

	j, err := repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	// a redelivered message for a finished job must not reduce twice
	if j.Status == insight.JobSucceeded || j.Status == insight.JobFailed {
		return nil
	}

	rec, err := reducer.ReduceSession(ctx, j.UserID, j.SessionID)
	if err != nil {
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}

	var patternID *uint64
	if rec != nil {
		patternID = &rec.ID
		// a new pattern changes what the dashboard should show
		if rds != nil {
			_ = rds.InvalidateDashboardInsights(ctx, j.UserID)
		}
	}
	return repo.MarkJobSucceeded(ctx, jobID, patternID)
}
