// Package creator determines which wallet deployed a token.
//
// A token's creator is the sender of its creation transaction. The resolver
// persists the answer on the token record and never consults the indexer or
// node again once the record is verified.
package creator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"launchpad/gateway/indexer"
	"launchpad/gateway/models"
	"launchpad/observability"
)

// lookupTimeout bounds a shared lookup once it no longer follows a caller's
// context.
const lookupTimeout = 30 * time.Second

// ErrNotFound is returned when the creator could not be established from the
// indexer and node. It is never returned for storage failures.
var ErrNotFound = errors.New("creator not found")

// TxFinder locates the creation transaction of a token.
type TxFinder interface {
	CreationTx(ctx context.Context, token common.Address) (common.Hash, error)
}

// SenderSource reads the sender of a transaction.
type SenderSource interface {
	TransactionSender(ctx context.Context, hash common.Hash) (common.Address, error)
}

// Store is the subset of the token store used for resolution.
type Store interface {
	EnsureToken(ctx context.Context, address string) (*models.Token, error)
	MarkPending(ctx context.Context, address, txHash string) error
	SetCreator(ctx context.Context, address, creator, txHash, source string) (*models.Token, error)
}

// Config wires a Resolver.
type Config struct {
	Store   Store
	Indexer TxFinder
	Chain   SenderSource
	Logger  *slog.Logger
	// OnResolved runs after a creator is newly verified.
	OnResolved func(token common.Address)
}

// Resolver implements the cache-then-indexer-then-node lookup.
type Resolver struct {
	store      Store
	indexer    TxFinder
	chain      SenderSource
	logger     *slog.Logger
	onResolved func(common.Address)
	metrics    *observability.CreatorMetrics
	tracer     trace.Tracer
	group      singleflight.Group
}

// New validates cfg and returns a Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errors.New("creator: store required")
	}
	if cfg.Indexer == nil {
		return nil, errors.New("creator: indexer required")
	}
	if cfg.Chain == nil {
		return nil, errors.New("creator: chain client required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:      cfg.Store,
		indexer:    cfg.Indexer,
		chain:      cfg.Chain,
		logger:     logger.With("component", "creator"),
		onResolved: cfg.OnResolved,
		metrics:    observability.Creator(),
		tracer:     otel.Tracer("launchpad/creator"),
	}, nil
}

// Resolve returns the verified creator of token.
func (r *Resolver) Resolve(ctx context.Context, token common.Address) (common.Address, error) {
	record, err := r.ResolveToken(ctx, token)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(record.Creator), nil
}

// ResolveToken returns the token record once its creator is verified.
// Concurrent calls for one token share a single lookup.
func (r *Resolver) ResolveToken(ctx context.Context, token common.Address) (*models.Token, error) {
	address := models.CanonicalAddress(token)
	ctx, span := r.tracer.Start(ctx, "creator.resolve", trace.WithAttributes(attribute.String("token", address)))
	defer span.End()

	start := time.Now()
	record, outcome, err := r.resolve(ctx, token, address)
	r.metrics.Observe(outcome, time.Since(start))
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return record, err
}

func (r *Resolver) resolve(ctx context.Context, token common.Address, address string) (*models.Token, string, error) {
	record, err := r.store.EnsureToken(ctx, address)
	if err != nil {
		return nil, observability.ResolveError, fmt.Errorf("creator: ensure token: %w", err)
	}
	if record.Verified() {
		return record, observability.ResolveCacheHit, nil
	}

	// The shared lookup outlives any single caller; each caller only waits
	// as long as its own context allows.
	shared := r.group.DoChan(address, func() (v any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("creator: lookup panic: %v", rec)
			}
		}()
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return r.lookup(lookupCtx, token, address, record)
	})
	select {
	case <-ctx.Done():
		return nil, observability.ResolveError, fmt.Errorf("creator: %w", ctx.Err())
	case res := <-shared:
		if res.Err != nil {
			if errors.Is(res.Err, ErrNotFound) {
				return nil, observability.ResolveNotFound, res.Err
			}
			return nil, observability.ResolveError, res.Err
		}
		return res.Val.(*models.Token), observability.ResolveResolved, nil
	}
}

func (r *Resolver) lookup(ctx context.Context, token common.Address, address string, record *models.Token) (*models.Token, error) {
	txHash, source, err := r.creationTx(ctx, token, address, record)
	if err != nil {
		return nil, err
	}

	sender, err := r.chain.TransactionSender(ctx, txHash)
	if err != nil {
		r.metrics.RecordUpstreamFailure("rpc")
		r.logger.Warn("read creation transaction", "token", address, "tx", txHash.Hex(), "error", err)
		return nil, ErrNotFound
	}

	updated, err := r.store.SetCreator(ctx, address, models.CanonicalAddress(sender), strings.ToLower(txHash.Hex()), source)
	if err != nil {
		return nil, fmt.Errorf("creator: persist: %w", err)
	}
	r.logger.Info("creator verified", "token", address, "creator", updated.Creator, "source", source)
	if r.onResolved != nil {
		r.onResolved(token)
	}
	return updated, nil
}

// creationTx asks the indexer on every miss and records the hash it returns.
// A hash stored by an earlier lookup is only used while the indexer is
// failing.
func (r *Resolver) creationTx(ctx context.Context, token common.Address, address string, record *models.Token) (common.Hash, string, error) {
	hash, err := r.indexer.CreationTx(ctx, token)
	switch {
	case errors.Is(err, indexer.ErrNoCreationTx):
		r.logger.Info("no creation transaction indexed", "token", address)
		return common.Hash{}, "", ErrNotFound
	case err != nil:
		r.metrics.RecordUpstreamFailure("indexer")
		if record.CreatorStatus == models.CreatorPending && strings.TrimSpace(record.CreationTx) != "" {
			r.logger.Warn("indexer unavailable, using stored creation transaction", "token", address, "tx", record.CreationTx, "error", err)
			return common.HexToHash(record.CreationTx), models.SourcePending, nil
		}
		r.logger.Warn("lookup creation transaction", "token", address, "error", err)
		return common.Hash{}, "", ErrNotFound
	}
	if err := r.store.MarkPending(ctx, address, strings.ToLower(hash.Hex())); err != nil {
		return common.Hash{}, "", fmt.Errorf("creator: mark pending: %w", err)
	}
	return hash, models.SourceIndexer, nil
}
