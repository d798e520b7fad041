package state

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	return map[string]Store{
		"memory":   NewMemoryStore(),
		"file":     fileStore,
		"prefixed": Prefixed(NewMemoryStore(), "session:abc"),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, CurrentOrganizationKey, "abc"))

			v, err := s.Get(ctx, CurrentOrganizationKey)
			require.NoError(t, err)
			assert.Equal(t, "abc", v)

			require.NoError(t, s.Set(ctx, CurrentOrganizationKey, "def"))
			v, err = s.Get(ctx, CurrentOrganizationKey)
			require.NoError(t, err)
			assert.Equal(t, "def", v)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	ctx := context.Background()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			v, err := GetString(ctx, s, "missing")
			require.NoError(t, err)
			assert.Empty(t, v)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "k", "v"))
			require.NoError(t, s.Delete(ctx, "k"))

			_, err := s.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)

			// deleting again is fine
			require.NoError(t, s.Delete(ctx, "k"))
		})
	}
}

func TestStore_InvalidKey(t *testing.T) {
	ctx := context.Background()

	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "")
			assert.ErrorIs(t, err, ErrInvalidKey)
			assert.ErrorIs(t, s.Set(ctx, "", "v"), ErrInvalidKey)
			assert.ErrorIs(t, s.Delete(ctx, ""), ErrInvalidKey)
		})
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, CurrentOrganizationKey, "org-1"))

	s2, err := NewFileStore(dir)
	require.NoError(t, err)

	v, err := s2.Get(ctx, CurrentOrganizationKey)
	require.NoError(t, err)
	assert.Equal(t, "org-1", v)
}

func TestFileStore_Permissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestFileStore_ConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for w := range 2 {
		s, err := NewFileStore(dir)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				errs <- s.Set(ctx, "writer-"+strconv.Itoa(w), strconv.Itoa(i))
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = s.Get(ctx, "writer-0")
	require.NoError(t, err)
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0600))

	_, err = s.Get(context.Background(), CurrentOrganizationKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse state")
}

func TestFileStore_Watch(t *testing.T) {
	dir := t.TempDir()

	watched, err := NewFileStore(dir)
	require.NoError(t, err)
	writer, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan [2]string, 10)
	done := make(chan error, 1)
	go func() {
		done <- watched.Watch(ctx, func(key, value string) {
			changes <- [2]string{key, value}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, writer.Set(ctx, CurrentOrganizationKey, "org-2"))

	select {
	case change := <-changes:
		assert.Equal(t, [2]string{CurrentOrganizationKey, "org-2"}, change)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for state change")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestPrefixed_IsolatesSessions(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	a := Prefixed(base, "session:a")
	b := Prefixed(base, "session:b")

	require.NoError(t, a.Set(ctx, CurrentOrganizationKey, "org-a"))

	_, err := b.Get(ctx, CurrentOrganizationKey)
	require.ErrorIs(t, err, ErrNotFound)

	v, err := base.Get(ctx, "session:a:"+CurrentOrganizationKey)
	require.NoError(t, err)
	require.Equal(t, "org-a", v)
}
