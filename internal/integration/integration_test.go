package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	infrapg "livequiz-service/internal/infra/postgres"
	pgmigrations "livequiz-service/internal/infra/postgres/migrations"
	infraredis "livequiz-service/internal/infra/redis"
	"livequiz-service/internal/lobby"
)

func TestJoinLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	store := infrapg.NewSessionStore(pool)
	channels := infraredis.NewChannelProvider(redisClient, time.Minute)
	hostControl := app.NewHostControl(store, channels)
	coordinator := app.NewJoinCoordinator(store)

	// Host creates a private session; wrong code is rejected, the right one
	// admits idempotently.
	session, err := hostControl.CreateSession(ctx, app.CreateSessionParams{
		QuizID: "quiz-1", HostID: "host-1", IsPrivate: true,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	alice := domain.User{ID: "u1", DisplayName: "Alice"}

	if _, err := coordinator.RedeemPrivateCode(ctx, "WRONG999", alice); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := coordinator.RedeemPrivateCode(ctx, *session.PrivateJoinCode, alice); err != nil {
			t.Fatalf("redeem attempt %d: %v", i+1, err)
		}
	}
	members, err := store.ListPrivateParticipants(ctx, session.ID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected exactly one participant row, got %d", len(members))
	}

	// A lobby member receives the host's start broadcast through redis.
	handle, err := channels.Subscribe(ctx, lobby.ChannelName(session.ID))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer handle.Dispose()
	started := make(chan []byte, 1)
	handle.OnBroadcast(lobby.EventQuizStarted, func(payload []byte) { started <- payload })
	if err := handle.Track(ctx, domain.PresenceMember{UserID: "u1", DisplayName: "Alice"}); err != nil {
		t.Fatalf("track: %v", err)
	}

	if _, err := hostControl.StartSession(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("start broadcast not delivered")
	}

	// Status is monotonic: a second start loses the from-status guard.
	if _, err := hostControl.StartSession(ctx, session.ID, "host-1"); !errors.Is(err, domain.ErrSessionNotWaiting) {
		t.Fatalf("expected second start rejected, got %v", err)
	}

	// The store-level delete guard holds even once the app-layer read is
	// stale: the session is in progress now, so the delete must not land.
	if err := store.DeleteSession(ctx, session.ID); !errors.Is(err, domain.ErrSessionNotWaiting) {
		t.Fatalf("expected in-progress delete rejected, got %v", err)
	}

	persisted, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if persisted.Status != domain.StatusInProgress || persisted.StartedAt == nil {
		t.Fatalf("persisted session wrong: %+v", persisted)
	}
	if persisted.JoinCode != nil || persisted.PrivateJoinCode == nil {
		t.Fatalf("code invariant violated: %+v", persisted)
	}
}

func TestWaitlistIdempotenceEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	store := infrapg.NewSessionStore(pool)
	hostControl := app.NewHostControl(store, lobby.NewHub())
	coordinator := app.NewJoinCoordinator(store)

	session, err := hostControl.CreateSession(ctx, app.CreateSessionParams{QuizID: "quiz-1", HostID: "host-1"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	alice := domain.User{ID: "u1", DisplayName: "Alice"}
	for i := 0; i < 3; i++ {
		if _, err := coordinator.RequestJoin(ctx, session.ID, alice); err != nil {
			t.Fatalf("join attempt %d: %v", i+1, err)
		}
	}
	entries, err := store.ListWaitlist(ctx, session.ID)
	if err != nil {
		t.Fatalf("list waitlist: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("repeated joins produced %d rows, want 1", len(entries))
	}

	if err := coordinator.LeaveWaitlist(ctx, session.ID, alice); err != nil {
		t.Fatalf("leave: %v", err)
	}
	entries, _ = store.ListWaitlist(ctx, session.ID)
	if len(entries) != 0 {
		t.Fatalf("expected empty waitlist, got %d rows", len(entries))
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
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
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
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
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
