package posts

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

type sequentialIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("post-%02d", p.next), nil
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "posts.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&PostRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *GormStore) {
	t.Helper()
	store, err := NewGormStore(GormStoreConfig{Database: openTestDatabase(t), VoteRetryLimit: 64})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return newTestServiceWithStore(t, store), store
}

func newTestServiceWithStore(t *testing.T, store Store) *Service {
	t.Helper()
	clock := newSteppingClock()
	service, err := NewService(ServiceConfig{
		Store:      store,
		Clock:      clock.Now,
		IDProvider: &sequentialIDProvider{},
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func mustCreatePost(t *testing.T, service *Service, owner string, lat, lon float64) Post {
	t.Helper()
	post, err := service.CreatePost(t.Context(), CreateRequest{
		OwnerID: owner,
		Lat:     lat,
		Lon:     lon,
		Content: []byte{0x89, 0x50, 0x4e, 0x47},
	})
	if err != nil {
		t.Fatalf("failed to create post: %v", err)
	}
	return post
}
