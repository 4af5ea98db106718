package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/klinika/clinic-admin/internal/rbac"
)

const (
	catalogVersionKey = "clinicadmin:catalog:version"
	catalogKeyPrefix  = "clinicadmin:catalog:v"
	// CatalogBumpChannel carries catalog version bumps between processes.
	CatalogBumpChannel = "clinicadmin.catalog.bump"
)

// CatalogSource loads the authoritative catalog.
type CatalogSource interface {
	LoadCatalog(ctx context.Context) (*rbac.Catalog, error)
}

type cachedCatalog struct {
	Entries    []rbac.Entry      `json:"entries"`
	Categories map[string]string `json:"categories"`
}

// CatalogStore serves the catalog through an in-process LRU and a versioned
// Redis copy in front of the source.
type CatalogStore struct {
	source  CatalogSource
	client  *redis.Client
	ttl     time.Duration
	local   *expirable.LRU[int64, *rbac.Catalog]
	flights singleflight.Group
	logger  *slog.Logger
}

// NewCatalogStore constructs the store. client may be nil, leaving only the
// in-process layer.
func NewCatalogStore(source CatalogSource, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CatalogStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CatalogStore{
		source: source,
		client: client,
		ttl:    ttl,
		local:  expirable.NewLRU[int64, *rbac.Catalog](4, nil, ttl),
		logger: logger,
	}
}

// Load returns the catalog. Cache failures fall back to the source; a source
// failure yields rbac.ErrCatalogLoad.
func (s *CatalogStore) Load(ctx context.Context) (*rbac.Catalog, error) {
	version, err := s.version(ctx)
	if err != nil {
		s.logger.Warn("catalog version", slog.Any("error", err))
	}
	if c, ok := s.local.Get(version); ok {
		return c, nil
	}
	return s.sharedFill(ctx, version)
}

// sharedFill collapses concurrent fills of one version. The fill runs detached
// from the caller's cancellation; each caller stops waiting on its own ctx.
func (s *CatalogStore) sharedFill(ctx context.Context, version int64) (*rbac.Catalog, error) {
	fillCtx := context.WithoutCancel(ctx)
	resultChan := s.flights.DoChan(strconv.FormatInt(version, 10), func() (interface{}, error) {
		return s.fill(fillCtx, version)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", rbac.ErrCatalogLoad, ctx.Err())
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rbac.Catalog), nil
	}
}

// Bump invalidates every cached copy and notifies other processes.
func (s *CatalogStore) Bump(ctx context.Context) error {
	s.local.Purge()
	if s.client == nil {
		return nil
	}
	ver, err := s.client.Incr(ctx, catalogVersionKey).Result()
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, CatalogBumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// Warm bumps the version and loads a fresh catalog.
func (s *CatalogStore) Warm(ctx context.Context) (*rbac.Catalog, error) {
	if err := s.Bump(ctx); err != nil {
		return nil, err
	}
	return s.Load(ctx)
}

// ListenForBumps purges the local layer whenever another process bumps the
// catalog, until ctx is done.
func (s *CatalogStore) ListenForBumps(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	pubsub := s.client.Subscribe(ctx, CatalogBumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				s.local.Purge()
			}
		}
	}()
	return nil
}

func (s *CatalogStore) fill(ctx context.Context, version int64) (*rbac.Catalog, error) {
	if c, ok := s.readRedis(ctx, version); ok {
		s.local.Add(version, c)
		return c, nil
	}
	c, err := s.source.LoadCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rbac.ErrCatalogLoad, err)
	}
	if c.Len() == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", rbac.ErrCatalogLoad)
	}
	s.local.Add(version, c)
	s.writeRedis(ctx, version, c)
	return c, nil
}

func (s *CatalogStore) version(ctx context.Context) (int64, error) {
	if s.client == nil {
		return 0, nil
	}
	ver, err := s.client.Get(ctx, catalogVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := s.client.SetNX(ctx, catalogVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return s.client.Get(ctx, catalogVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (s *CatalogStore) readRedis(ctx context.Context, version int64) (*rbac.Catalog, bool) {
	if s.client == nil {
		return nil, false
	}
	payload, err := s.client.Get(ctx, catalogKey(version)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("catalog cache read", slog.Any("error", err))
		}
		return nil, false
	}
	var cached cachedCatalog
	if err := json.Unmarshal(payload, &cached); err != nil {
		s.logger.Warn("catalog cache decode", slog.Any("error", err))
		return nil, false
	}
	c, err := rbac.NewCatalog(cached.Entries, cached.Categories)
	if err != nil || c.Len() == 0 {
		return nil, false
	}
	return c, true
}

func (s *CatalogStore) writeRedis(ctx context.Context, version int64, c *rbac.Catalog) {
	if s.client == nil {
		return
	}
	payload, err := json.Marshal(cachedCatalog{Entries: c.List(), Categories: c.Categories()})
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, catalogKey(version), payload, s.ttl).Err(); err != nil {
		s.logger.Warn("catalog cache write", slog.Any("error", err))
	}
}

func catalogKey(version int64) string {
	return catalogKeyPrefix + strconv.FormatInt(version, 10)
}
