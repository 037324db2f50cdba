package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"challenge-service/internal/app"
	"challenge-service/internal/config"
	"challenge-service/internal/domain"
	"challenge-service/internal/infra/memory"
	"challenge-service/internal/infra/postgres"
	redisinfra "challenge-service/internal/infra/redis"
	"challenge-service/internal/metrics"
	"challenge-service/internal/notify"
	"challenge-service/internal/questions"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
)

const serviceName = "challenge-service"

// components holds everything the commands share. close releases the connections.
type components struct {
	service   *app.ChallengeService
	generator app.QuestionGenerator
	metrics   *metrics.Metrics

	// listen is non-nil when the event bus needs a background listener.
	listen func(ctx context.Context) error
	wait   func()

	closers []func()
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func buildComponents(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*components, error) {
	c := &components{metrics: metrics.New("challenges"), wait: func() {}}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" || cfg.Redis.Addr != "" {
		client, err := newRedisClient(cfg)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		redisClient = client
		c.closers = append(c.closers, func() { _ = client.Close() })
	}

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		p, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pool = p
		db = openBunDB(cfg.Postgres.URL)
		c.closers = append(c.closers, p.Close, func() { _ = db.Close() })
	}

	var loader memory.BankLoader = memory.NewStaticBankLoader(sampleBanks()...)
	if pool != nil {
		loader = postgres.NewBankLoader(pool)
	}
	bankTTL := config.TTLDuration(cfg.Bank.TTL, 10*time.Minute)
	var banks questions.BankSource
	if redisClient != nil {
		banks = redisinfra.NewBankRepository(redisClient, loader, bankTTL)
	} else {
		banks = memory.NewBankRepository(loader, bankTTL)
	}

	if cfg.Generator.URL != "" {
		timeout := config.TTLDuration(cfg.Generator.Timeout, 20*time.Second)
		c.generator = questions.NewHTTPGenerator(cfg.Generator.URL, cfg.Generator.Token, timeout, log)
	} else {
		c.generator = questions.NewBankGenerator(banks, log)
	}

	events, err := buildEventBus(c, cfg.Events.Backend, redisClient, pool, log)
	if err != nil {
		c.close()
		return nil, err
	}

	var (
		challenges app.ChallengeRepository
		stats      app.StatsRepository
	)
	if db != nil {
		store := postgres.NewChallengeStore(db)
		challenges, stats = store, store
	} else {
		store := memory.NewChallengeStore()
		challenges, stats = store, store
	}

	notifier, err := buildNotifier(c, cfg, db, log)
	if err != nil {
		c.close()
		return nil, err
	}

	c.service = app.NewChallengeService(challenges, stats, events, c.generator, app.Options{
		PendingTimeout:           config.TTLDuration(cfg.Challenge.PendingTimeout, 30*time.Second),
		ReadyTimeout:             config.TTLDuration(cfg.Challenge.ReadyTimeout, 120*time.Second),
		StartGrace:               config.TTLDuration(cfg.Challenge.StartGrace, 2*time.Second),
		WriteRetries:             cfg.Challenge.WriteRetries,
		MilestoneEvery:           cfg.Challenge.MilestoneEvery,
		ReconcileInitialInterval: config.TTLDuration(cfg.Reconcile.InitialInterval, 250*time.Millisecond),
		ReconcileMaxInterval:     config.TTLDuration(cfg.Reconcile.MaxInterval, 5*time.Second),
		ReconcileMaxElapsed:      config.TTLDuration(cfg.Reconcile.MaxElapsed, time.Minute),
		Logger:                   log,
		Notifier:                 notifier,
		Recorder:                 c.metrics,
	})
	return c, nil
}

func newRedisClient(cfg config.Config) (*redis.Client, error) {
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), nil
}

func buildEventBus(c *components, backend string, client *redis.Client, pool *pgxpool.Pool, log logrus.FieldLogger) (app.EventBus, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" || backend == "auto" {
		switch {
		case client != nil:
			backend = "redis"
		case pool != nil:
			backend = "postgres"
		default:
			backend = "memory"
		}
	}

	switch backend {
	case "memory":
		return memory.NewEventBus(), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("events backend redis: redis not configured")
		}
		return redisinfra.NewEventBus(client, log), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("events backend postgres: postgres not configured")
		}
		bus := postgres.NewEventBus(pool, log)
		c.listen = bus.Run
		return bus, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", backend)
	}
}

func buildNotifier(c *components, cfg config.Config, db *bun.DB, log logrus.FieldLogger) (app.Notifier, error) {
	switch strings.ToLower(cfg.Notify.Provider) {
	case "", "log":
		return notify.NewLogDispatcher(log), nil
	case "sendgrid":
		if cfg.Notify.SendgridAPIKey == "" {
			return nil, fmt.Errorf("notify provider sendgrid: api key not configured")
		}
		var book notify.AddressBook
		switch strings.ToLower(cfg.Notify.AddressBook) {
		case "", "config":
			static := notify.StaticAddressBook{}
			for userID, addr := range cfg.Notify.Addresses {
				static[userID] = notify.Address{Email: addr.Email, Name: addr.Name}
			}
			book = static
		case "postgres":
			if db == nil {
				return nil, fmt.Errorf("address book postgres: postgres not configured")
			}
			book = postgres.NewProfileAddressBook(db)
		default:
			return nil, fmt.Errorf("unknown address book %q", cfg.Notify.AddressBook)
		}
		dispatcher := notify.NewSendgridDispatcher(notify.SendgridConfig{
			APIKey:    cfg.Notify.SendgridAPIKey,
			FromName:  cfg.Notify.FromName,
			FromEmail: cfg.Notify.FromEmail,
		}, book, log)
		c.wait = dispatcher.Wait
		return dispatcher, nil
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Notify.Provider)
	}
}

// sampleBanks seeds the in-memory question bank when no database is configured.
func sampleBanks() []domain.QuestionBank {
	easy := []domain.Question{
		{Question: "What is 7 x 8?", Options: []string{"54", "56", "58", "64"}, AnswerIndex: 1},
		{Question: "What is the square root of 81?", Options: []string{"7", "8", "9", "10"}, AnswerIndex: 2},
		{Question: "What is 15% of 200?", Options: []string{"15", "20", "30", "35"}, AnswerIndex: 2},
		{Question: "How many sides does a hexagon have?", Options: []string{"5", "6", "7", "8"}, AnswerIndex: 1},
		{Question: "What is 2 to the power of 5?", Options: []string{"16", "25", "32", "64"}, AnswerIndex: 2},
		{Question: "What is 144 / 12?", Options: []string{"10", "11", "12", "14"}, AnswerIndex: 2},
	}
	hard := []domain.Question{
		{Question: "What is the derivative of x^3?", Options: []string{"x^2", "3x^2", "3x", "x^3/3"}, AnswerIndex: 1},
		{Question: "What is log10(1000)?", Options: []string{"2", "3", "4", "10"}, AnswerIndex: 1},
		{Question: "How many primes are below 20?", Options: []string{"6", "7", "8", "9"}, AnswerIndex: 2},
		{Question: "What is 0! (zero factorial)?", Options: []string{"0", "1", "undefined", "infinity"}, AnswerIndex: 1},
	}
	return []domain.QuestionBank{
		{Subject: "Math", Difficulty: domain.DifficultyEasy, Questions: easy},
		{Subject: "Math", Difficulty: domain.DifficultyHard, Questions: hard},
	}
}
