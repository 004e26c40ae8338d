package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/duetlabs/duet/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testMessages(now time.Time) []domain.Message {
	return []domain.Message{
		domain.UserMessage("set a timer for three minutes", now),
		{
			Kind:      domain.KindAssistant,
			ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "set_timer", Arguments: `{"minutes":3}`}},
			CreatedAt: now,
		},
		domain.ToolResultMessage("call-1", "set_timer", "timer set", now),
		{Kind: domain.KindAssistant, Text: `{"persona":"akane","emotion":"happy","text":"done"}`, CreatedAt: now},
	}
}

func runStoreContract(t *testing.T, s ConversationStore) {
	ctx := context.Background()
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	latest, err := s.LatestConversationID(ctx)
	require.NoError(t, err)
	require.Empty(t, latest)

	first, err := s.CreateConversation(ctx)
	require.NoError(t, err)
	second, err := s.CreateConversation(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	latest, err = s.LatestConversationID(ctx)
	require.NoError(t, err)
	require.Equal(t, second, latest)

	msgs := testMessages(now)
	require.NoError(t, s.AppendMessages(ctx, first, msgs[:2]))
	require.NoError(t, s.AppendMessages(ctx, first, msgs[2:]))
	require.NoError(t, s.AppendMessages(ctx, first, nil))

	got, err := s.LoadMessages(ctx, first)
	require.NoError(t, err)
	require.Len(t, got, len(msgs))
	for i := range msgs {
		require.Equal(t, msgs[i].Kind, got[i].Kind, "kind of message %d", i)
		require.Equal(t, msgs[i].Text, got[i].Text, "text of message %d", i)
		require.Equal(t, msgs[i].Date, got[i].Date)
		require.Equal(t, msgs[i].Clock, got[i].Clock)
		require.Equal(t, msgs[i].ToolCalls, got[i].ToolCalls)
		require.Equal(t, msgs[i].ToolCallID, got[i].ToolCallID)
		require.True(t, msgs[i].CreatedAt.Equal(got[i].CreatedAt), "created_at of message %d", i)
	}

	empty, err := s.LoadMessages(ctx, second)
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = s.LoadMessages(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.AppendMessages(ctx, "missing", msgs), ErrNotFound)

	require.NoError(t, s.Ping(ctx))
}

func TestSQLiteStore(t *testing.T) {
	s, err := New(DriverSQLite, WithSQLitePath(filepath.Join(t.TempDir(), "nested", "duet.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runStoreContract(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duet.db")
	ctx := context.Background()

	s, err := NewSQLite(path, nil)
	require.NoError(t, err)
	id, err := s.CreateConversation(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessages(ctx, id, testMessages(time.Now())))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	latest, err := reopened.LatestConversationID(ctx)
	require.NoError(t, err)
	require.Equal(t, id, latest)

	got, err := reopened.LoadMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 4)
}

func TestMemoryStore(t *testing.T) {
	s, err := New(DriverMemory)
	require.NoError(t, err)
	runStoreContract(t, s)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	db := 15
	if v := os.Getenv("REDIS_TEST_DB"); v != "" {
		n, err := strconv.Atoi(v)
		require.NoError(t, err)
		db = n
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	require.NoError(t, client.FlushDB(context.Background()).Err())

	s, err := New(DriverRedis, WithRedisClient(client), WithRedisTTL(time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	runStoreContract(t, s)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New("postgres")
	require.ErrorIs(t, err, ErrInvalidDriver)

	_, err = New(DriverRedis)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(DriverSQLite)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
