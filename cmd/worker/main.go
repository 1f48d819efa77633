package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stratochat/stratochat/internal/ai"
	"github.com/stratochat/stratochat/internal/chat"
	"github.com/stratochat/stratochat/internal/config"
	"github.com/stratochat/stratochat/internal/db"
	"github.com/stratochat/stratochat/internal/kv"
	"github.com/stratochat/stratochat/internal/limits"
	"github.com/stratochat/stratochat/internal/metrics"
	"github.com/stratochat/stratochat/internal/models"
	"github.com/stratochat/stratochat/internal/store/rabbitmq"
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
	cfg := config.Load()
	setupLogger(cfg.LogLevel)

	gdb := db.Connect(cfg.DBDSN)
	kvs := kv.New(gdb, models.Tables()...)
	if err := kvs.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	resolver := limits.NewResolver(kvs, nil)
	chats := chat.NewStore(kvs, resolver, cfg.ChatListLimit)

	reg := ai.NewRegistry()
	endpointFactory := func(_ context.Context, m *models.Model) (ai.Provider, error) {
		return ai.NewEndpointProvider(m), nil
	}
	reg.Register(models.IntegrationEasy, endpointFactory)
	reg.Register(models.IntegrationCustom, endpointFactory)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial failed")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel failed")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare failed")
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos failed")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	w := &worker{kv: kvs, chats: chats, registry: reg}

	jobs := make(chan amqp.Delivery, concurrency*2)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var job rabbitmq.ReplyJob
				if err := json.Unmarshal(d.Body, &job); err != nil || job.ChatID == "" || job.UserID == "" {
					log.Error().Int("worker", workerID).Err(err).Msg("bad job message")
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := w.handle(ctx, job); err != nil {
					metrics.Global().JobsFailed.Inc()
					log.Error().
						Int("worker", workerID).
						Str("chat_id", job.ChatID).
						Dur("cost", time.Since(start)).
						Err(err).
						Msg("reply job failed")
					_ = d.Nack(false, false)
					continue
				}
				metrics.Global().JobsProcessed.Inc()

				if err := d.Ack(false); err != nil {
					log.Error().Int("worker", workerID).Str("chat_id", job.ChatID).Err(err).Msg("ack failed")
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn().Msg("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

type worker struct {
	kv       *kv.Store
	chats    *chat.Store
	registry *ai.Registry
}

// handle generates one assistant reply: load the chat and its model
// record, call the endpoint with the full message history, and append
// the reply through the chat store so direct-mirror and quota semantics
// stay in one place.
func (w *worker) handle(ctx context.Context, job rabbitmq.ReplyJob) error {
	var owner models.User
	if err := w.kv.Get(ctx, models.TableUsers, job.UserID, &owner); err != nil {
		return err
	}

	conv, err := w.chats.Get(ctx, owner.ID, job.ChatID)
	if err != nil {
		return err
	}
	if conv.ChatType != chat.TypeAI || conv.ModelID == "" {
		return errors.New("chat has no model to reply with")
	}

	var model models.Model
	if err := w.kv.Get(ctx, models.TableModels, conv.ModelID, &model); err != nil {
		return err
	}
	if !model.IsActive {
		return errors.New("model is inactive")
	}

	provider, err := w.registry.Get(ctx, &model)
	if err != nil {
		return err
	}

	history := make([]ai.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		history = append(history, ai.Message{Role: m.Role, Content: m.Content})
	}

	reply, err := provider.Chat(ctx, history)
	if err != nil {
		return err
	}

	_, err = w.chats.AppendMessage(ctx, &owner, conv.ID, chat.MessageCreate{
		Role:    chat.RoleAssistant,
		Content: reply,
	})
	return err
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
