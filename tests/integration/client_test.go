//go:build integration

package integration

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/portal-sync/internal/testutil"
	"github.com/Sternrassler/portal-sync/pkg/cache"
	"github.com/Sternrassler/portal-sync/pkg/config"
	"github.com/Sternrassler/portal-sync/pkg/domain"
	"github.com/Sternrassler/portal-sync/pkg/engine"
	"github.com/Sternrassler/portal-sync/pkg/logging"
	"github.com/Sternrassler/portal-sync/pkg/push"
	"github.com/Sternrassler/portal-sync/pkg/query"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newSession(t *testing.T, mock *testutil.MockPortal, vars map[string]string, opts ...engine.Option) *engine.Session {
	t.Helper()
	env := map[string]string{
		"PORTAL_API_BASE_URL":   mock.APIURL(),
		"PORTAL_PUSH_MODE":      "off",
		"PORTAL_FAMILIES":       "members,events",
		"PORTAL_RETRY_DELAY":    "1ms",
		"PORTAL_POLL_INTERVAL":  "1h",
		"PORTAL_RECONNECT_BASE": "10ms",
		"PORTAL_RECONNECT_CAP":  "50ms",
	}
	for k, v := range vars {
		env[k] = v
	}
	cfg, err := config.LoadFrom(env)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	opts = append([]engine.Option{engine.WithLogger(logging.Nop())}, opts...)
	s, err := engine.New(cfg, opts...)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

// TestSharedValidators: a second session revalidates against validators
// stored in Redis by the first and is answered with 304.
func TestSharedValidators(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPortal()
	defer mock.Close()
	mock.SetCollection("events", `{"event_id":"e1","title":"Raid"}`, `{"event_id":"e2","title":"Siege"}`)

	validators := cache.NewRedisStore(redisClient, time.Hour)
	ctx := context.Background()

	first := newSession(t, mock, nil, engine.WithValidators(validators))
	r1, err := first.FetchList(ctx, domain.FamilyEvents, nil)
	if err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}

	second := newSession(t, mock, nil, engine.WithValidators(validators))
	r2, err := second.FetchList(ctx, domain.FamilyEvents, nil)
	if err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}

	if mock.GetConditionalCount() != 1 {
		t.Errorf("Conditional requests = %d, want 1", mock.GetConditionalCount())
	}
	if mock.GetNotModifiedCount() != 1 {
		t.Errorf("304 responses = %d, want 1", mock.GetNotModifiedCount())
	}
	if len(r1.Items) != 2 || len(r2.Items) != 2 {
		t.Fatalf("Items = %d / %d, want 2 / 2", len(r1.Items), len(r2.Items))
	}
	for i := range r1.Items {
		if !reflect.DeepEqual(r1.Items[i], r2.Items[i]) {
			t.Errorf("Item %d differs: %+v vs %+v", i, r1.Items[i], r2.Items[i])
		}
	}

	// a changed collection gets a new ETag and a full response
	mock.SetCollection("events", `{"event_id":"e3","title":"Scout"}`)
	r3, err := second.FetchList(ctx, domain.FamilyEvents, nil)
	if err != nil {
		t.Fatalf("Third fetch failed: %v", err)
	}
	if len(r3.Items) != 1 || r3.Items[0].ID() != "e3" {
		t.Errorf("Third fetch = %+v, want [e3]", r3.Items)
	}
}

// TestFullSyncFlow: initial load, push deltas, reconnect and refetch with
// validators in Redis.
func TestFullSyncFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPortal()
	defer mock.Close()
	mock.SetCollection("members", `{"user_id":"u1","username":"ann"}`, `{"user_id":"u9","username":"bob"}`)
	mock.SetCollection("events", `{"event_id":"e2"}`, `{"event_id":"e3"}`, `{"event_id":"e4"}`)

	s := newSession(t, mock, map[string]string{
		"PORTAL_PUSH_MODE": "websocket",
		"PORTAL_PUSH_URL":  mock.WebSocketURL(),
	}, engine.WithValidators(cache.NewRedisStore(redisClient, time.Hour)))
	s.Start(context.Background())

	waitUntil(t, "push open", func() bool { return s.PushState() == push.StateOpen && mock.GetSubscriberCount() == 1 })

	mock.Broadcast(`{"entity":"events","action":"created","payload":[{"event_id":"e1","title":"Raid"}]}`)
	waitUntil(t, "event e1 applied", func() bool {
		e, ok := s.Store().Read(query.List(domain.FamilyEvents, nil))
		return ok && len(e.List.Items) == 4 && e.List.Items[0].ID() == "e1"
	})

	mock.Broadcast(`{"entity":"members","action":"deleted","ids":["u9"]}`)
	waitUntil(t, "member u9 removed", func() bool {
		e, ok := s.Store().Read(query.List(domain.FamilyMembers, nil))
		return ok && len(e.List.Items) == 1
	})

	mock.SetCollection("members", `{"user_id":"u1","username":"ann"}`, `{"user_id":"u5","username":"eve"}`)
	mock.DisconnectPush()
	waitUntil(t, "members refetched after reconnect", func() bool {
		e, ok := s.Store().Read(query.List(domain.FamilyMembers, nil))
		return ok && len(e.List.Items) == 2 && mock.GetPushConnections() == 2
	})

	keys, err := redisClient.Keys(context.Background(), "portal:etag:*").Result()
	if err != nil {
		t.Fatalf("Failed to list validator keys: %v", err)
	}
	if len(keys) < 2 {
		t.Errorf("Validator keys = %d, want at least 2", len(keys))
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
