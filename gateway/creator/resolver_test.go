package creator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"launchpad/gateway/indexer"
	"launchpad/gateway/models"
	"launchpad/gateway/store"
)

var (
	token   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	creator = common.HexToAddress("0x00000000000000000000000000000000000000BB")
	txHash  = common.HexToHash("0x01")
)

type fakeIndexer struct {
	calls atomic.Int32
	gate  chan struct{}

	mu   sync.Mutex
	hash common.Hash
	err  error
}

func (f *fakeIndexer) set(hash common.Hash, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hash, f.err = hash, err
}

func (f *fakeIndexer) CreationTx(ctx context.Context, _ common.Address) (common.Hash, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hash, f.err
}

// fakeChain answers from senders when set, otherwise with sender/err.
type fakeChain struct {
	calls   atomic.Int32
	senders map[common.Hash]common.Address

	mu     sync.Mutex
	sender common.Address
	err    error
}

func (f *fakeChain) set(sender common.Address, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sender, f.err = sender, err
}

func (f *fakeChain) TransactionSender(ctx context.Context, hash common.Hash) (common.Address, error) {
	f.calls.Add(1)
	if f.senders != nil {
		from, ok := f.senders[hash]
		if !ok {
			return common.Address{}, ethereum.NotFound
		}
		return from, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sender, f.err
}

type brokenStore struct{}

func (brokenStore) EnsureToken(context.Context, string) (*models.Token, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) MarkPending(context.Context, string, string) error { return nil }

func (brokenStore) SetCreator(context.Context, string, string, string, string) (*models.Token, error) {
	return nil, errors.New("connection refused")
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(store.OpenConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.New(db)
}

func newResolver(t *testing.T, st Store, idx *fakeIndexer, ch *fakeChain) *Resolver {
	t.Helper()
	r, err := New(Config{Store: st, Indexer: idx, Chain: ch})
	require.NoError(t, err)
	return r
}

func TestResolvePersistsThenHitsCache(t *testing.T) {
	st := newStore(t)
	idx := &fakeIndexer{hash: txHash}
	ch := &fakeChain{sender: creator}
	var hooked atomic.Int32
	r, err := New(Config{Store: st, Indexer: idx, Chain: ch, OnResolved: func(common.Address) { hooked.Add(1) }})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, creator, got)

	record, err := st.GetToken(context.Background(), models.CanonicalAddress(token))
	require.NoError(t, err)
	require.Equal(t, models.CreatorVerified, record.CreatorStatus)
	require.Equal(t, models.CanonicalAddress(creator), record.Creator)
	require.Equal(t, int32(1), hooked.Load())

	got, err = r.Resolve(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, creator, got)
	require.Equal(t, int32(1), idx.calls.Load(), "second resolve must not query the indexer")
	require.Equal(t, int32(1), ch.calls.Load())
}

func TestResolveVerifiedRecordSkipsUpstream(t *testing.T) {
	st := newStore(t)
	_, err := st.SetCreator(context.Background(), models.CanonicalAddress(token), models.CanonicalAddress(creator), "0xabc", models.SourceIndexer)
	require.NoError(t, err)
	idx := &fakeIndexer{err: errors.New("must not be called")}
	ch := &fakeChain{err: errors.New("must not be called")}
	r := newResolver(t, st, idx, ch)

	got, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, creator, got)
	require.Zero(t, idx.calls.Load())
	require.Zero(t, ch.calls.Load())
}

func TestResolveNoCreationTxKeepsPlaceholder(t *testing.T) {
	st := newStore(t)
	r := newResolver(t, st, &fakeIndexer{err: indexer.ErrNoCreationTx}, &fakeChain{sender: creator})

	_, err := r.Resolve(context.Background(), token)
	require.ErrorIs(t, err, ErrNotFound)

	record, err := st.GetToken(context.Background(), models.CanonicalAddress(token))
	require.NoError(t, err)
	require.Equal(t, models.CreatorUnknown, record.CreatorStatus)
	require.Equal(t, models.CanonicalAddress(token), record.Creator)
}

func TestResolveUpstreamFailuresAreNotFound(t *testing.T) {
	cases := map[string]struct {
		idx *fakeIndexer
		ch  *fakeChain
	}{
		"indexer error": {idx: &fakeIndexer{err: errors.New("502")}, ch: &fakeChain{sender: creator}},
		"rpc error":     {idx: &fakeIndexer{hash: txHash}, ch: &fakeChain{err: errors.New("timeout")}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := newResolver(t, newStore(t), tc.idx, tc.ch)
			_, err := r.Resolve(context.Background(), token)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestResolvePendingFallsBackToStoredHashWhenIndexerFails(t *testing.T) {
	st := newStore(t)
	idx := &fakeIndexer{hash: txHash}
	ch := &fakeChain{err: errors.New("node unavailable")}
	r := newResolver(t, st, idx, ch)

	_, err := r.Resolve(context.Background(), token)
	require.ErrorIs(t, err, ErrNotFound)
	record, err := st.GetToken(context.Background(), models.CanonicalAddress(token))
	require.NoError(t, err)
	require.Equal(t, models.CreatorPending, record.CreatorStatus)

	idx.set(common.Hash{}, errors.New("subgraph 503"))
	ch.set(creator, nil)
	got, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, creator, got)
	require.Equal(t, int32(2), idx.calls.Load())

	audit, err := st.Resolutions(context.Background(), models.CanonicalAddress(token))
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, models.SourcePending, audit[0].Source)
}

func TestResolvePendingRequeriesIndexerForNewHash(t *testing.T) {
	st := newStore(t)
	stale := common.HexToHash("0xdead")
	fresh := common.HexToHash("0xbeef")
	idx := &fakeIndexer{hash: stale}
	ch := &fakeChain{senders: map[common.Hash]common.Address{fresh: creator}}
	r := newResolver(t, st, idx, ch)

	_, err := r.Resolve(context.Background(), token)
	require.ErrorIs(t, err, ErrNotFound)

	idx.set(fresh, nil)
	got, err := r.Resolve(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, creator, got)
	require.Equal(t, int32(2), idx.calls.Load())

	record, err := st.GetToken(context.Background(), models.CanonicalAddress(token))
	require.NoError(t, err)
	require.Equal(t, models.CreatorVerified, record.CreatorStatus)
	require.Equal(t, strings.ToLower(fresh.Hex()), record.CreationTx)

	audit, err := st.Resolutions(context.Background(), models.CanonicalAddress(token))
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, models.SourceIndexer, audit[0].Source)
}

func TestResolveStoreFailureIsInternal(t *testing.T) {
	r := newResolver(t, brokenStore{}, &fakeIndexer{hash: txHash}, &fakeChain{sender: creator})

	_, err := r.Resolve(context.Background(), token)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestResolveCoalescesConcurrentCallers(t *testing.T) {
	st := newStore(t)
	_, err := st.EnsureToken(context.Background(), models.CanonicalAddress(token))
	require.NoError(t, err)
	idx := &fakeIndexer{hash: txHash, gate: make(chan struct{})}
	ch := &fakeChain{sender: creator}
	r := newResolver(t, st, idx, ch)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Resolve(context.Background(), token)
			if err == nil && got != creator {
				err = fmt.Errorf("unexpected creator %s", got.Hex())
			}
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return idx.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Give the remaining callers time to join the in-flight lookup.
	time.Sleep(100 * time.Millisecond)
	close(idx.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), idx.calls.Load(), "concurrent callers must share one indexer lookup")
	require.Equal(t, int32(1), ch.calls.Load())
	audit, err := st.Resolutions(context.Background(), models.CanonicalAddress(token))
	require.NoError(t, err)
	require.Len(t, audit, 1)
}

func TestResolveSharedLookupSurvivesCallerCancel(t *testing.T) {
	st := newStore(t)
	idx := &fakeIndexer{hash: txHash, gate: make(chan struct{})}
	ch := &fakeChain{sender: creator}
	r := newResolver(t, st, idx, ch)

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(first, token)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return idx.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		addr common.Address
		err  error
	}
	second := make(chan result, 1)
	go func() {
		addr, err := r.Resolve(context.Background(), token)
		second <- result{addr, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatalf("cancelled caller did not return")
	}

	close(idx.gate)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		require.Equal(t, creator, res.addr)
	case <-time.After(2 * time.Second):
		t.Fatalf("second caller did not return")
	}
	require.Equal(t, int32(1), idx.calls.Load())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
