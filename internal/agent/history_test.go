package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kailera/acertaia-api/internal/tenant"
	"github.com/kailera/acertaia-api/pkg/logger"
)

func TestRedisHistory_Load(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)
	db, mock := redismock.NewClientMock()
	h := NewRedisHistory(db, 10, time.Hour)

	mock.ExpectLRange("acertaia:history:owner-1:conv-1", -10, -1).SetVal([]string{
		`{"role":"user","content":"oi"}`,
		`not json`,
		`{"role":"assistant","content":"olá"}`,
	})

	turns, err := h.Load(tenant.WithOwnerID(context.Background(), "owner-1"), "conv-1")

	require.NoError(t, err)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "oi"}, {Role: RoleAssistant, Content: "olá"}}, turns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHistory_LoadError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	h := NewRedisHistory(db, 10, time.Hour)

	mock.ExpectLRange("acertaia:history:_:conv-1", -10, -1).SetErr(errors.New("redis down"))

	_, err := h.Load(context.Background(), "conv-1")
	assert.Error(t, err)
}

func TestRedisHistory_Append(t *testing.T) {
	db, mock := redismock.NewClientMock()
	h := NewRedisHistory(db, 4, 30*time.Minute)
	key := "acertaia:history:owner-1:conv-1"

	mock.ExpectRPush(key, `{"role":"user","content":"oi"}`, `{"role":"assistant","content":"olá"}`).SetVal(2)
	mock.ExpectLTrim(key, -4, -1).SetVal("OK")
	mock.ExpectExpire(key, 30*time.Minute).SetVal(true)

	err := h.Append(tenant.WithOwnerID(context.Background(), "owner-1"), "conv-1",
		Message{Role: RoleUser, Content: "oi"},
		Message{Role: RoleAssistant, Content: "olá"},
	)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHistory_AppendNothing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	h := NewRedisHistory(db, 4, time.Minute)

	assert.NoError(t, h.Append(context.Background(), "conv-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHistory_OwnersDoNotShareConversations(t *testing.T) {
	db, mock := redismock.NewClientMock()
	h := NewRedisHistory(db, 10, time.Hour)

	mock.ExpectLRange("acertaia:history:tenant-a:default_conversation", -10, -1).
		SetVal([]string{`{"role":"user","content":"segredo do tenant A"}`})
	mock.ExpectLRange("acertaia:history:tenant-b:default_conversation", -10, -1).SetVal([]string{})

	turnsA, err := h.Load(tenant.WithOwnerID(context.Background(), "tenant-a"), "default_conversation")
	require.NoError(t, err)
	assert.Len(t, turnsA, 1)

	turnsB, err := h.Load(tenant.WithOwnerID(context.Background(), "tenant-b"), "default_conversation")
	require.NoError(t, err)
	assert.Empty(t, turnsB)
	assert.NoError(t, mock.ExpectationsWereMet())
}
