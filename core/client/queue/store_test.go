package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	jl, err := NewJSONLStore(filepath.Join(dir, "queue.jsonl"))
	require.NoError(t, err)
	sq, err := NewSQLiteStore(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = jl.Close()
		_ = sq.Close()
	})
	return map[string]Store{"jsonl": jl, "sqlite": sq}
}

func TestStoreContract(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Truncate(time.Millisecond)
			first := Request{
				ID:         "r1",
				Method:     "POST",
				Endpoint:   "dispense-result",
				Payload:    json.RawMessage(`{"k_uid":"K001"}`),
				EnqueuedAt: base,
			}
			second := Request{
				ID:         "r2",
				Method:     "POST",
				Endpoint:   "confirm",
				Payload:    json.RawMessage(`{"uid":"K001"}`),
				EnqueuedAt: base.Add(time.Second),
			}
			require.NoError(t, store.Append(ctx, first))
			require.NoError(t, store.Append(ctx, second))

			reqs, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, reqs, 2)
			require.Equal(t, "r1", reqs[0].ID, "FIFO order expected")
			require.Equal(t, "r2", reqs[1].ID)
			require.JSONEq(t, `{"k_uid":"K001"}`, string(reqs[0].Payload))

			first.Retries = 2
			require.NoError(t, store.Update(ctx, first))
			reqs, err = store.List(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, reqs[0].Retries)

			require.NoError(t, store.Remove(ctx, "r1"))
			reqs, err = store.List(ctx)
			require.NoError(t, err)
			require.Len(t, reqs, 1)
			require.Equal(t, "r2", reqs[0].ID)
		})
	}
}

func TestNewStoreUnknownBackend(t *testing.T) {
	_, err := NewStore("redis", "x")
	require.Error(t, err)
}

func TestNewStoreSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore("jsonl", filepath.Join(dir, "q.jsonl"))
	require.NoError(t, err)
	require.IsType(t, &JSONLStore{}, s)
	s2, err := NewStore("sqlite", filepath.Join(dir, "q.db"))
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, s2)
	require.NoError(t, s.Close())
	require.NoError(t, s2.Close())
}
