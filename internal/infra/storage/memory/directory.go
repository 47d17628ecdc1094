package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	domainlistings "exodrive/internal/domain/listings"
	domainuser "exodrive/internal/domain/user"
)

// UserRepository stores users in memory.
type UserRepository struct {
	mu   sync.RWMutex
	byID map[domainuser.ID]*domainuser.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{byID: make(map[domainuser.ID]*domainuser.User)}
}

func (r *UserRepository) ByID(ctx context.Context, id domainuser.ID) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.byID[id]; ok {
		return cloneUser(u), nil
	}
	return nil, domainuser.ErrNotFound
}

func (r *UserRepository) ByIDs(ctx context.Context, ids []domainuser.ID) (map[domainuser.ID]*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domainuser.ID]*domainuser.User, len(ids))
	for _, id := range ids {
		if u, ok := r.byID[id]; ok {
			out[id] = cloneUser(u)
		}
	}
	return out, nil
}

func (r *UserRepository) Save(ctx context.Context, u *domainuser.User) error {
	if u == nil {
		return domainuser.ErrIDRequired
	}
	id, err := domainuser.NormalizeID(string(u.ID))
	if err != nil {
		return err
	}
	stored := cloneUser(u)
	stored.ID = id
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = stored
	return nil
}

func cloneUser(u *domainuser.User) *domainuser.User {
	if u == nil {
		return nil
	}
	copyUser := *u
	return &copyUser
}

// ListingRepository is an in-memory listing catalogue for demo and tests.
type ListingRepository struct {
	mu    sync.RWMutex
	items map[domainlistings.ListingID]*domainlistings.Listing
}

func NewListingRepository() *ListingRepository {
	return &ListingRepository{items: make(map[domainlistings.ListingID]*domainlistings.Listing)}
}

func (r *ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	listing, ok := r.items[id]
	if !ok {
		return nil, domainlistings.ErrNotFound
	}
	return cloneListing(listing), nil
}

func (r *ListingRepository) ByIDs(ctx context.Context, ids []domainlistings.ListingID) (map[domainlistings.ListingID]*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domainlistings.ListingID]*domainlistings.Listing, len(ids))
	for _, id := range ids {
		if l, ok := r.items[id]; ok {
			out[id] = cloneListing(l)
		}
	}
	return out, nil
}

func (r *ListingRepository) Save(ctx context.Context, listing *domainlistings.Listing) error {
	if listing == nil || strings.TrimSpace(string(listing.ID)) == "" {
		return domainlistings.ErrIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[listing.ID] = cloneListing(listing)
	return nil
}

func cloneListing(l *domainlistings.Listing) *domainlistings.Listing {
	if l == nil {
		return nil
	}
	out := *l
	out.Images = append([]string(nil), l.Images...)
	return &out
}

// Fixtures is the on-disk seed format for local runs without MongoDB.
type Fixtures struct {
	Users    []userFixture    `json:"users"`
	Listings []listingFixture `json:"listings"`
}

type userFixture struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type listingFixture struct {
	ID     string   `json:"id"`
	Owner  string   `json:"owner"`
	Title  string   `json:"title"`
	Brand  string   `json:"brand"`
	Model  string   `json:"model"`
	Images []string `json:"images"`
}

// LoadFixtures seeds users and listings from a JSON file. A missing file is
// not an error; invalid entries are logged and skipped.
func LoadFixtures(ctx context.Context, path string, users *UserRepository, listings *ListingRepository, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("fixtures file empty", "path", path)
		return nil
	}
	var fx Fixtures
	if err := json.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	for _, u := range fx.Users {
		err := users.Save(ctx, &domainuser.User{ID: domainuser.ID(u.ID), Name: u.Name, Email: u.Email})
		if err != nil {
			logger.Error("fixture user invalid", "user_id", u.ID, "error", err)
		}
	}
	for _, l := range fx.Listings {
		err := listings.Save(ctx, &domainlistings.Listing{
			ID:     domainlistings.ListingID(l.ID),
			Owner:  l.Owner,
			Title:  l.Title,
			Brand:  l.Brand,
			Model:  l.Model,
			Images: l.Images,
		})
		if err != nil {
			logger.Error("fixture listing invalid", "listing_id", l.ID, "error", err)
		}
	}
	logger.Info("fixtures imported", "users", len(fx.Users), "listings", len(fx.Listings))
	return nil
}

var _ domainuser.Repository = (*UserRepository)(nil)
var _ domainlistings.Repository = (*ListingRepository)(nil)
