package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/socialcore/config"
	"go.pilab.hu/socialcore/log"
)

func memoryConfig() *config.ServerConfig {
	return &config.ServerConfig{
		StoreDriver:           config.StoreMemory,
		SessionTTL:            time.Hour,
		ResetTokenTTL:         time.Hour,
		EnumerationProtection: true,
		BcryptCost:            bcrypt.MinCost,
		AuditLog:              true,
	}
}

func TestNew_MemoryStack(t *testing.T) {
	var auditBuf bytes.Buffer
	ctx := context.Background()

	a, err := New(ctx, memoryConfig(), log.NewNop(), Options{AuditWriter: &auditBuf})
	require.NoError(t, err)
	defer a.Close(ctx)

	assert.Nil(t, a.Posts)

	select {
	case <-a.Sessions.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session manager never became ready")
	}
	assert.False(t, a.Sessions.State().SignedIn())

	require.NoError(t, a.Sessions.SignUp(ctx, "ann@x.io", "secret1", "Ann", "ann"))
	require.NoError(t, a.Sessions.RefreshProfile(ctx))

	state := a.Sessions.State()
	require.NotNil(t, state.Profile)
	assert.Equal(t, "ann", state.Profile.Username)
	assert.Contains(t, auditBuf.String(), `"sign_up"`)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "social_signups_total")
}

func TestNew_GoogleWithoutClientIDIsDisabled(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), log.NewNop(), Options{})
	require.NoError(t, err)
	defer a.Close(ctx)

	err = a.Sessions.SignInWithGoogle(ctx)
	require.Error(t, err)
	assert.Nil(t, a.Sessions.State().Identity)
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := memoryConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, cfg, log.NewNop(), Options{})
	assert.Error(t, err)
}

func TestNew_BoltStackKeepsSession(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.StoreDriver = config.StoreBolt
	cfg.BoltPath = filepath.Join(t.TempDir(), "social.db")
	cfg.AuditLog = false

	first, err := New(ctx, cfg, log.NewNop(), Options{})
	require.NoError(t, err)
	require.NoError(t, first.Sessions.SignUp(ctx, "ann@x.io", "secret1", "Ann", "ann"))
	uid := first.Identity.Current().UID
	first.Close(ctx)

	second, err := New(ctx, cfg, log.NewNop(), Options{})
	require.NoError(t, err)
	defer second.Close(ctx)

	select {
	case <-second.Sessions.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session manager never became ready")
	}
	require.NoError(t, second.Sessions.RefreshProfile(ctx))
	state := second.Sessions.State()
	require.NotNil(t, state.Identity)
	assert.Equal(t, uid, state.Identity.UID)
	require.NotNil(t, state.Profile)
	assert.Equal(t, "ann", state.Profile.Username)
}
