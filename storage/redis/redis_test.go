package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/terminguard/storage"
	"github.com/jmcleod/terminguard/storage/storagetest"
)

func newTestStore(t *testing.T, prefix string) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := New(Config{Client: client, KeyPrefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisRepository(t *testing.T) {
	s, _ := newTestStore(t, "")
	storagetest.Run(t, s, "ns1")
}

func TestRedisRepositoryKeyPrefix(t *testing.T) {
	s, mr := newTestStore(t, "test:")
	env := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Ciphertext: []byte(`{}`)}
	require.NoError(t, s.Put(t.Context(), "__sessions", "SESSION", "abc", env))
	require.True(t, mr.Exists("test:__sessions:SESSION:abc"))

	members, err := mr.Members("test:__sessions:SESSION:__index")
	require.NoError(t, err)
	require.Equal(t, []string{"abc"}, members)
}

func TestRedisRepositoryRequiresClient(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
