package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dripflow/dripflow/pkg/cmd"
	"github.com/dripflow/dripflow/pkg/log"
	"github.com/dripflow/dripflow/pkg/otelhelper"
	"github.com/dripflow/dripflow/pkg/queue"
	"github.com/dripflow/dripflow/pkg/scheduler"
	"github.com/dripflow/dripflow/pkg/services"
)

const defaultConcurrency = 4

func main() {
	command := &cli.Command{
		Name:                  "dripflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute automation steps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "queue-url",
				Usage:    "Job queue URL (memory://, sqlite://path, redis://host)",
				Required: true,
				Sources:  cli.EnvVars("QUEUE_URL"),
			},
			&cli.StringFlag{
				Name:    "subscriber-url",
				Usage:   "Subscriber snapshot source (redis://host, memory://; memory is empty and for development only)",
				Value:   "memory://",
				Sources: cli.EnvVars("SUBSCRIBER_URL"),
			},
			&cli.StringFlag{
				Name:    "delivery-channel",
				Usage:   "Email delivery channel (log; logs sends instead of delivering, development only)",
				Value:   "log",
				Sources: cli.EnvVars("DELIVERY_CHANNEL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Number of concurrent job processors",
				Value:   defaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("dripflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Dripflow Worker")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			jobQueue := cmd.NewQueue(ctx, logger, command.String("queue-url"))
			defer func() {
				if err := jobQueue.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close job queue", "error", err)
				}
			}()

			brokers := strings.Split(command.String("kafka-brokers"), ",")
			eventBus := cmd.NewEventBus(command.String("event-bus"), "dripflow-worker", brokers, logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			tracer, err := otelhelper.NewTracer(ctx, "dripflow-worker")
			if err != nil {
				logger.ErrorContext(ctx, "Failed to initialize tracer", "error", err)

				return err
			}

			subscribers := cmd.NewSubscriberProvider(ctx, command.String("subscriber-url"))
			enrollment := services.NewEnrollment(persistence, jobQueue, subscribers, eventBus, logger)

			worker := scheduler.NewWorker(workerID, scheduler.Deps{
				Persistence: persistence,
				Queue:       jobQueue,
				Subscribers: subscribers,
				Sender:      cmd.NewSender(command.String("delivery-channel"), logger),
				Enrollment:  enrollment,
				EventBus:    eventBus,
			}, command.Int("concurrency"), tracer, logger)

			janitor := scheduler.NewRetentionJanitor(jobQueue, queue.DefaultRetention, logger)
			if err := janitor.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start retention janitor", "error", err)

				return err
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			go func() {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
				<-sigChan
				logger.InfoContext(ctx, "Shutting down worker...")
				cancel()
			}()

			return worker.Start(runCtx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
