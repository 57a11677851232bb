package manager

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tileview/internal/cache"
	"tileview/internal/retriever"
	"tileview/internal/tile"
)

// fakeRetriever hands out channels that the test completes explicitly.
type fakeRetriever struct {
	mu      sync.Mutex
	calls   map[tile.Coordinate]int
	waiting map[tile.Coordinate][]chan retriever.Result
}

func newFakeRetriever() *fakeRetriever {
	return &fakeRetriever{
		calls:   map[tile.Coordinate]int{},
		waiting: map[tile.Coordinate][]chan retriever.Result{},
	}
}

func (f *fakeRetriever) LoadTile(zoom, x, y int) <-chan retriever.Result {
	coord := tile.New(zoom, x, y)
	ch := make(chan retriever.Result, 1)

	f.mu.Lock()
	f.calls[coord]++
	f.waiting[coord] = append(f.waiting[coord], ch)
	f.mu.Unlock()

	return ch
}

func (f *fakeRetriever) complete(coord tile.Coordinate, data []byte, err error) {
	f.mu.Lock()
	chans := f.waiting[coord]
	delete(f.waiting, coord)
	f.mu.Unlock()

	for _, ch := range chans {
		ch <- retriever.Result{Data: data, Err: err}
		close(ch)
	}
}

func (f *fakeRetriever) callCount(coord tile.Coordinate) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[coord]
}

// recorder collects deliveries from any goroutine.
type recorder struct {
	mu  sync.Mutex
	got map[tile.Coordinate][][]byte
	seq []tile.Coordinate
}

func newRecorder() *recorder {
	return &recorder{got: map[tile.Coordinate][][]byte{}}
}

func (r *recorder) onTile(coord tile.Coordinate, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got[coord] = append(r.got[coord], data)
	r.seq = append(r.seq, coord)
}

func (r *recorder) count(coord tile.Coordinate) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got[coord])
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seq)
}

func newManager(t *testing.T) (*TileManager, *cache.MemoryCache, *fakeRetriever) {
	t.Helper()
	c, err := cache.NewMemoryCache(100)
	require.NoError(t, err)
	r := newFakeRetriever()
	m, err := New(c, r, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m, c, r
}

var (
	coordA = tile.New(5, 10, 12)
	coordB = tile.New(5, 11, 12)
)

func TestNewValidation(t *testing.T) {
	c, _ := cache.NewMemoryCache(1)

	_, err := New(nil, newFakeRetriever(), nil)
	assert.Error(t, err)

	_, err = New(c, nil, nil)
	assert.Error(t, err)
}

func TestRefreshDeliversCacheHitsSynchronously(t *testing.T) {
	m, c, r := newManager(t)
	require.NoError(t, c.Put(coordA, []byte("a")))

	rec := newRecorder()
	m.RefreshTiles([]tile.Coordinate{coordA}, rec.onTile)

	assert.Equal(t, 1, rec.count(coordA), "hit must be delivered before RefreshTiles returns")
	assert.Equal(t, 0, r.callCount(coordA))
}

func TestRefreshFetchesMissAndCaches(t *testing.T) {
	m, _, r := newManager(t)
	rec := newRecorder()

	m.RefreshTiles([]tile.Coordinate{coordA}, rec.onTile)
	assert.Equal(t, 0, rec.count(coordA))
	assert.True(t, m.Pending(coordA))

	r.complete(coordA, []byte("fetched"), nil)

	require.Eventually(t, func() bool { return rec.count(coordA) == 1 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !m.Pending(coordA) }, 2*time.Second, time.Millisecond)

	got, ok := m.CachedTile(coordA)
	require.True(t, ok)
	assert.Equal(t, []byte("fetched"), got)
}

func TestConcurrentRefreshesShareOneFetch(t *testing.T) {
	m, _, r := newManager(t)
	first, second := newRecorder(), newRecorder()

	m.RefreshTiles([]tile.Coordinate{coordA}, first.onTile)
	m.RefreshTiles([]tile.Coordinate{coordA}, second.onTile)

	assert.Equal(t, 1, r.callCount(coordA))

	r.complete(coordA, []byte("a"), nil)

	require.Eventually(t, func() bool {
		return first.count(coordA) == 1 && second.count(coordA) == 1
	}, 2*time.Second, time.Millisecond)

	// Nothing else arrives later.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, first.count(coordA))
	assert.Equal(t, 1, second.count(coordA))
	assert.Equal(t, 1, r.callCount(coordA))
}

func TestRefreshDeduplicatesWithinOneCall(t *testing.T) {
	m, c, r := newManager(t)
	require.NoError(t, c.Put(coordB, []byte("b")))
	rec := newRecorder()

	m.RefreshTiles([]tile.Coordinate{coordA, coordB, coordA, coordB, coordA}, rec.onTile)

	assert.Equal(t, 1, r.callCount(coordA))
	assert.Equal(t, 1, rec.count(coordB))

	r.complete(coordA, []byte("a"), nil)
	require.Eventually(t, func() bool { return rec.count(coordA) == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, rec.total())
}

func TestFailedFetchIsNotDeliveredAndRetries(t *testing.T) {
	m, _, r := newManager(t)
	rec := newRecorder()

	m.RefreshTiles([]tile.Coordinate{coordA}, rec.onTile)
	r.complete(coordA, nil, errors.New("503"))

	require.Eventually(t, func() bool { return !m.Pending(coordA) }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, rec.count(coordA))
	_, ok := m.CachedTile(coordA)
	assert.False(t, ok)

	m.RefreshTiles([]tile.Coordinate{coordA}, rec.onTile)
	assert.Equal(t, 2, r.callCount(coordA), "a failed tile is fetched again on the next refresh")

	r.complete(coordA, []byte("a"), nil)
	require.Eventually(t, func() bool { return rec.count(coordA) == 1 }, 2*time.Second, time.Millisecond)
}

func TestRetrieverErrorIsNotDelivered(t *testing.T) {
	c, _ := cache.NewMemoryCache(10)
	r := retriever.Func(func(zoom, x, y int) ([]byte, error) {
		return nil, errors.New("unreachable")
	})
	m, err := New(c, r, zaptest.NewLogger(t))
	require.NoError(t, err)

	rec := newRecorder()
	m.RefreshTiles([]tile.Coordinate{coordA}, rec.onTile)

	require.Eventually(t, func() bool { return !m.Pending(coordA) }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, rec.total())
}

func TestGenerationIsMonotonic(t *testing.T) {
	m, _, _ := newManager(t)
	assert.EqualValues(t, 0, m.CurrentGeneration())

	g1 := m.RefreshTiles(nil, nil)
	g2 := m.RefreshTiles([]tile.Coordinate{}, nil)
	g3 := m.RefreshTiles([]tile.Coordinate{coordA}, nil)

	assert.EqualValues(t, 1, g1)
	assert.Greater(t, g2, g1)
	assert.Greater(t, g3, g2)
	assert.Equal(t, g3, m.CurrentGeneration())
}

func TestStaleGenerationStillDelivered(t *testing.T) {
	m, _, r := newManager(t)
	rec := newRecorder()

	m.RefreshTiles([]tile.Coordinate{coordA}, rec.onTile)
	m.RefreshTiles([]tile.Coordinate{coordB}, rec.onTile)

	r.complete(coordA, []byte("old"), nil)
	require.Eventually(t, func() bool { return rec.count(coordA) == 1 }, 2*time.Second, time.Millisecond)

	_, ok := m.CachedTile(coordA)
	assert.True(t, ok)
}

func TestCachedTileNeverFetches(t *testing.T) {
	m, _, r := newManager(t)

	_, ok := m.CachedTile(coordA)
	assert.False(t, ok)
	assert.Equal(t, 0, r.callCount(coordA))
	assert.False(t, m.Pending(coordA))
}

func TestClearCache(t *testing.T) {
	m, c, _ := newManager(t)
	require.NoError(t, c.Put(coordA, []byte("a")))

	m.ClearCache()

	_, ok := m.CachedTile(coordA)
	assert.False(t, ok)
}

func TestParallelRefreshesIssueOneFetch(t *testing.T) {
	m, _, r := newManager(t)
	rec := newRecorder()

	const callers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			m.RefreshTiles([]tile.Coordinate{coordA, coordB}, rec.onTile)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, r.callCount(coordA))
	assert.Equal(t, 1, r.callCount(coordB))

	r.complete(coordA, []byte("a"), nil)
	r.complete(coordB, []byte("b"), nil)

	require.Eventually(t, func() bool {
		return rec.count(coordA) == callers && rec.count(coordB) == callers
	}, 2*time.Second, time.Millisecond)
}

func TestNilCallbackStillCaches(t *testing.T) {
	m, _, r := newManager(t)

	m.RefreshTiles([]tile.Coordinate{coordA}, nil)
	r.complete(coordA, []byte("a"), nil)

	require.Eventually(t, func() bool {
		_, ok := m.CachedTile(coordA)
		return ok
	}, 2*time.Second, time.Millisecond)
}

func TestRefreshRestartsFetchLeftSettledByFailure(t *testing.T) {
	m, _, r := newManager(t)

	// A failed fetch that has settled but not yet been removed.
	failed := &inflight{}
	failed.settle()
	m.pending.Store(coordA, failed)

	rec := newRecorder()
	m.RefreshTiles([]tile.Coordinate{coordA}, rec.onTile)

	assert.Equal(t, 1, r.callCount(coordA), "the refresh must start its own fetch")
	current, ok := m.pending.Load(coordA)
	require.True(t, ok)
	assert.NotSame(t, failed, current)

	// The failed fetch's own cleanup must leave the new entry alone.
	m.pending.CompareAndDelete(coordA, failed)
	assert.True(t, m.Pending(coordA))

	r.complete(coordA, []byte("a"), nil)
	require.Eventually(t, func() bool { return rec.count(coordA) == 1 }, 2*time.Second, time.Millisecond)
}

func TestRefreshJoiningSettledSuccessReadsCache(t *testing.T) {
	m, c, r := newManager(t)

	done := &inflight{}
	done.settle()
	m.pending.Store(coordA, done)
	require.NoError(t, c.Put(coordA, []byte("a")))

	// The cache lookup in RefreshTiles would hit first, so go through request.
	rec := newRecorder()
	m.request(coordA, rec.onTile, 1)

	assert.Equal(t, 1, rec.count(coordA))
	assert.Equal(t, 0, r.callCount(coordA))
}
