package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"challenge-service/internal/app"
	"challenge-service/internal/domain"
	"challenge-service/internal/infra/postgres"
	"challenge-service/internal/infra/postgres/migrations"
	infraredis "challenge-service/internal/infra/redis"
	"challenge-service/internal/notify"
	"challenge-service/internal/questions"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestChallengeEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openDB(t, ctx, pgURL)
	seedBank(t, ctx, db, sampleBank())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	log := quietLogger()
	banks := infraredis.NewBankRepository(redisClient, postgres.NewBankLoader(pool), 5*time.Minute)
	store := postgres.NewChallengeStore(db)
	service := app.NewChallengeService(store, store, infraredis.NewEventBus(redisClient, log), questions.NewBankGenerator(banks, log), app.Options{
		Logger:                   log,
		ReconcileInitialInterval: 10 * time.Millisecond,
	})

	c, err := service.Create(ctx, app.CreateRequest{HostID: "alice", OpponentID: "bob", Subject: "science", DurationSeconds: 60})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(c.Questions) != 5 || c.Difficulty != domain.DifficultyEasy {
		t.Fatalf("unexpected question set: %s with %d questions", c.Difficulty, len(c.Questions))
	}

	incoming, err := service.ListIncoming(ctx, "bob")
	if err != nil || len(incoming) != 1 || incoming[0].ID != c.ID {
		t.Fatalf("incoming: %+v %v", incoming, err)
	}

	if _, err := service.Accept(ctx, c.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := service.Accept(ctx, c.ID, "bob"); err == nil {
		t.Fatalf("second accept must fail")
	}

	outcome := make(chan domain.Challenge, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		if _, err := service.AwaitStart(waitCtx, c.ID); err != nil {
			t.Errorf("await start: %v", err)
			close(outcome)
			return
		}
		done, err := service.AwaitOutcome(waitCtx, c.ID)
		if err != nil {
			t.Errorf("await outcome: %v", err)
		}
		outcome <- done
	}()

	for _, user := range []string{"alice", "bob"} {
		if _, err := service.MarkReady(ctx, c.ID, user); err != nil {
			t.Fatalf("ready %s: %v", user, err)
		}
	}
	if _, err := service.Finish(ctx, c.ID, "alice", 4); err != nil {
		t.Fatalf("finish alice: %v", err)
	}
	if _, err := service.Finish(ctx, c.ID, "bob", 2); err != nil {
		t.Fatalf("finish bob: %v", err)
	}

	select {
	case done, ok := <-outcome:
		if !ok {
			t.FailNow()
		}
		if done.Status != domain.StatusCompleted || done.WinnerID == nil || *done.WinnerID != "alice" {
			t.Fatalf("unexpected outcome %+v", done)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("outcome never observed")
	}

	again, err := service.Reconcile(ctx, app.ReconcileRequest{ChallengeID: c.ID})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if *again.HostScore != 4 || *again.OpponentScore != 2 {
		t.Fatalf("unexpected scores %+v", again)
	}

	host, err := service.Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if host.CurrentStreak != 1 || host.TotalWins != 1 || host.TotalChallenges != 1 {
		t.Fatalf("unexpected host stats %+v", host)
	}
	opponent, _ := service.Stats(ctx, "bob")
	if opponent.TotalWins != 0 || opponent.TotalChallenges != 1 {
		t.Fatalf("unexpected opponent stats %+v", opponent)
	}
}

func TestPostgresEventBusAndProfiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	db := openDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	bus := postgres.NewEventBus(pool, quietLogger())
	listenCtx, stopListener := context.WithCancel(ctx)
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		_ = bus.Run(listenCtx)
	}()
	defer stopListener()

	updates, unsubscribe, err := bus.Subscribe(ctx, domain.EventFilter{OpponentID: "bob"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	bob := "bob"
	ev := domain.ChallengeEvent{Type: domain.EventInsert, Challenge: domain.Challenge{
		ID:         "c-1",
		HostID:     "alice",
		OpponentID: &bob,
		Status:     domain.StatusPending,
		Questions:  []domain.Question{{Question: "hidden", Options: []string{"a", "b", "c", "d"}}},
	}}

	// The listener connects asynchronously; publish until the first delivery.
	deadline := time.After(15 * time.Second)
	for delivered := false; !delivered; {
		if err := bus.Publish(ctx, ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case got := <-updates:
			if got.Challenge.ID != "c-1" || len(got.Challenge.Questions) != 0 {
				t.Fatalf("unexpected event %+v", got)
			}
			delivered = true
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatal("no notification delivered")
		}
	}

	// The listener runs on its own connection, outside the pool.
	if acquired := pool.Stat().AcquiredConns(); acquired != 0 {
		t.Fatalf("listener holds a pooled connection: %d acquired", acquired)
	}
	var channels int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM pg_listening_channels()`).Scan(&channels); err != nil {
		t.Fatalf("listening channels: %v", err)
	}
	if channels != 0 {
		t.Fatalf("pooled connection is listening on %d channels", channels)
	}

	stopListener()
	<-listenerDone
	listenerGone := time.After(5 * time.Second)
	for {
		var listeners int
		err := pool.QueryRow(ctx, `SELECT count(*) FROM pg_stat_activity WHERE datname = current_database() AND pid <> pg_backend_pid() AND query LIKE 'LISTEN %'`).Scan(&listeners)
		if err != nil {
			t.Fatalf("count listeners: %v", err)
		}
		if listeners == 0 {
			break
		}
		select {
		case <-listenerGone:
			t.Fatalf("listen connection still open after the listener stopped")
		case <-time.After(100 * time.Millisecond):
		}
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO profiles (user_id, email, display_name) VALUES ('alice', 'alice@example.com', 'Alice')`); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	book := postgres.NewProfileAddressBook(db)
	addr, err := book.Lookup(ctx, "alice")
	if err != nil || addr.Email != "alice@example.com" {
		t.Fatalf("lookup: %+v %v", addr, err)
	}
	if _, err := book.Lookup(ctx, "nobody"); !errors.Is(err, notify.ErrNoAddress) {
		t.Fatalf("expected no address, got %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "challenge", "POSTGRES_PASSWORD": "challengepass", "POSTGRES_DB": "challengedb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://challenge:challengepass@%s:%s/challengedb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(context.Background())
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(context.Background())
	}
}

// openDB connects with bun and applies every migration.
func openDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedBank(t *testing.T, ctx context.Context, db *bun.DB, bank domain.QuestionBank) {
	t.Helper()
	data, err := json.Marshal(bank.Questions)
	if err != nil {
		t.Fatalf("marshal bank: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO question_bank (subject, difficulty, questions) VALUES (?, ?, ?::jsonb)
		 ON CONFLICT (subject, difficulty) DO UPDATE SET questions = EXCLUDED.questions`,
		bank.Subject, string(bank.Difficulty), string(data)); err != nil {
		t.Fatalf("insert bank: %v", err)
	}
}

func sampleBank() domain.QuestionBank {
	qs := make([]domain.Question, 0, 8)
	for i := 0; i < 8; i++ {
		qs = append(qs, domain.Question{
			Question:    fmt.Sprintf("Which planet is number %d from the sun?", i+1),
			Options:     []string{"Mercury", "Venus", "Earth", "Mars"},
			AnswerIndex: i % 4,
		})
	}
	return domain.QuestionBank{Subject: "Science", Difficulty: domain.DifficultyEasy, Questions: qs}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
