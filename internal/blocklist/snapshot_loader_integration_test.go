//go:build integration

package blocklist_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"trapper/internal/blocklist"
	blockstore "trapper/internal/blocklist/store"
	id "trapper/pkg/domain"
	"trapper/pkg/testutil/containers"
)

// redisCache adapts the shared test Redis client to the loader's cache
// contract without pulling in the platform config plumbing.
type redisCache struct {
	rc *containers.RedisContainer
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.rc.Client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rc.Client.Set(ctx, key, value, ttl).Err()
}

type SnapshotLoaderSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redis    *containers.RedisContainer
	store    *blockstore.Postgres
}

func TestSnapshotLoaderSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(SnapshotLoaderSuite))
}

func (s *SnapshotLoaderSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redis = mgr.GetRedis(s.T())
	s.store = blockstore.NewPostgres(s.postgres.DB)
}

func (s *SnapshotLoaderSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "blocklist_hard", "blocklist_soft"))
	s.Require().NoError(s.redis.FlushAll(ctx))
}

func (s *SnapshotLoaderSuite) addHard(value string) {
	s.T().Helper()
	entry, err := blocklist.NewHardEntry(id.IdentifierEmail, value, "shelter inbox", time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.store.AddHard(context.Background(), entry))
}

func (s *SnapshotLoaderSuite) TestLoadsFromStore() {
	ctx := context.Background()
	s.addHard("intake@example.org")

	entry, err := blocklist.NewSoftEntry(id.IdentifierPhone, "7075551200", 0.5, blocklist.CorroborationNone, time.Now().UTC())
	s.Require().NoError(err)
	entry.KnownNames = []string{"Marguerite Delacroix-Fontaine", "Ty Ubach"}
	s.Require().NoError(s.store.AddSoft(ctx, entry))

	loader := blocklist.NewLoader(s.store, time.Minute)
	snapshot, err := loader.Snapshot(ctx)
	s.Require().NoError(err)

	filter := blocklist.NewFilter(snapshot)
	s.True(filter.IsBlocked(id.IdentifierEmail, "intake@example.org"))
	s.False(filter.IsBlocked(id.IdentifierEmail, "someone@example.org"))

	soft, ok := filter.SoftPenalty(id.IdentifierPhone, "7075551200")
	s.Require().True(ok)
	s.InDelta(0.5, soft.Multiplier, 1e-9)
	s.Contains(soft.KnownNames, "Ty Ubach")
}

func (s *SnapshotLoaderSuite) TestInvalidatePicksUpOperatorWrites() {
	ctx := context.Background()
	loader := blocklist.NewLoader(s.store, time.Hour)

	snapshot, err := loader.Snapshot(ctx)
	s.Require().NoError(err)
	s.False(blocklist.NewFilter(snapshot).IsBlocked(id.IdentifierEmail, "late@example.org"))

	s.addHard("late@example.org")

	// The hour-long refresh would hide the write; Invalidate forces a reload.
	loader.Invalidate()
	snapshot, err = loader.Snapshot(ctx)
	s.Require().NoError(err)
	s.True(blocklist.NewFilter(snapshot).IsBlocked(id.IdentifierEmail, "late@example.org"))
}

func (s *SnapshotLoaderSuite) TestCacheServesSecondProcess() {
	ctx := context.Background()
	cache := &redisCache{rc: s.redis}
	s.addHard("cached@example.org")

	first := blocklist.NewLoader(s.store, time.Minute, blocklist.WithCache(cache))
	_, err := first.Snapshot(ctx)
	s.Require().NoError(err)

	// Wipe the tables: a second process within the refresh window must be
	// served entirely from the shared cache.
	s.Require().NoError(s.postgres.TruncateTables(ctx, "blocklist_hard", "blocklist_soft"))

	second := blocklist.NewLoader(s.store, time.Minute, blocklist.WithCache(cache))
	snapshot, err := second.Snapshot(ctx)
	s.Require().NoError(err)
	s.True(blocklist.NewFilter(snapshot).IsBlocked(id.IdentifierEmail, "cached@example.org"))
}

func (s *SnapshotLoaderSuite) TestCorruptCacheFallsBackToStore() {
	ctx := context.Background()
	cache := &redisCache{rc: s.redis}
	s.addHard("real@example.org")

	s.Require().NoError(s.redis.Client.Set(ctx, "trapper:blocklist:snapshot", "{not json", time.Minute).Err())

	loader := blocklist.NewLoader(s.store, time.Minute, blocklist.WithCache(cache))
	snapshot, err := loader.Snapshot(ctx)
	s.Require().NoError(err)
	s.True(blocklist.NewFilter(snapshot).IsBlocked(id.IdentifierEmail, "real@example.org"))
}
