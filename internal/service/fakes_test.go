package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/recipebox/internal/apperror"
	"github.com/sakif/recipebox/internal/model"
	"github.com/sakif/recipebox/internal/repository"
)

// fakeStore is an in-memory RecipeRepository and UserRepository.
type fakeStore struct {
	mu      sync.Mutex
	recipes map[string]*model.Recipe
	users   map[string]*model.User
	nextID  int
	writes  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		recipes: make(map[string]*model.Recipe),
		users:   make(map[string]*model.User),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%03d", prefix, f.nextID)
}

func (f *fakeStore) CreateRecipe(_ context.Context, r *model.Recipe) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = f.id("recipe")
	r.CreatedAt = time.Now().Add(time.Duration(f.nextID) * time.Millisecond)
	r.UpdatedAt = r.CreatedAt
	stored := *r
	f.recipes[r.ID] = &stored
	f.writes++
	return nil
}

func (f *fakeStore) GetRecipe(_ context.Context, id string) (*model.Recipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recipes[id]
	if !ok {
		return nil, apperror.NotFound("recipe", id)
	}
	out := *r
	if u, ok := f.users[r.UserID]; ok {
		out.Author = u.AsAuthor()
	}
	return &out, nil
}

func (f *fakeStore) UpdateRecipe(_ context.Context, r *model.Recipe) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.recipes[r.ID]; !ok {
		return apperror.NotFound("recipe", r.ID)
	}
	r.UpdatedAt = time.Now()
	stored := *r
	stored.Author = nil
	f.recipes[r.ID] = &stored
	f.writes++
	return nil
}

func (f *fakeStore) DeleteRecipe(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.recipes[id]; !ok {
		return apperror.NotFound("recipe", id)
	}
	delete(f.recipes, id)
	f.writes++
	return nil
}

func (f *fakeStore) ListRecipes(_ context.Context, q repository.RecipeQuery) (repository.RecipePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []model.Recipe
	for _, r := range f.recipes {
		if q.OwnerID != "" && r.UserID != q.OwnerID {
			continue
		}
		if q.Published != nil && r.IsPublish != *q.Published {
			continue
		}
		if q.Keyword != "" {
			kw := strings.ToLower(q.Keyword)
			hay := strings.ToLower(r.Name + "\n" + r.Description + "\n" + r.Ingredients)
			if !strings.Contains(hay, kw) {
				continue
			}
		}
		matched = append(matched, *r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if q.Order == repository.OrderAsc {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := repository.RecipePage{Page: q.Page, PerPage: q.PerPage, Total: len(matched)}
	start := q.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = matched[start:end]
	return page, nil
}

func (f *fakeStore) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return apperror.Conflict("user", "username or email already used")
		}
	}
	u.ID = f.id("user")
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	f.users[u.ID] = &stored
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return f.findUser(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return f.findUser(func(u *model.User) bool { return u.Username == username }, username)
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return f.findUser(func(u *model.User) bool { return u.Email == email }, email)
}

func (f *fakeStore) findUser(match func(*model.User) bool, key string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if match(u) {
			out := *u
			return &out, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (f *fakeStore) UpdateUserAvatar(_ context.Context, id, avatar string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.AvatarImage = avatar
	return nil
}

// addUser stores a user directly, bypassing registration.
func (f *fakeStore) addUser(t *testing.T, username string) *model.User {
	t.Helper()
	u := &model.User{Username: username, Email: username + "@example.com", IsActive: true}
	if err := f.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("addUser: %v", err)
	}
	return u
}

// fakeCache records invalidated prefixes.
type fakeCache struct {
	mu       sync.Mutex
	prefixes []string
	err      error
}

func (c *fakeCache) Invalidate(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefixes = append(c.prefixes, prefix)
	return c.err
}

func (c *fakeCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prefixes)
}

// fakeImages is an in-memory imagestore.Store.
type fakeImages struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeImages() *fakeImages {
	return &fakeImages{objects: make(map[string][]byte)}
}

func (f *fakeImages) Put(_ context.Context, folder, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[folder+"/"+name] = data
	return nil
}

func (f *fakeImages) Delete(_ context.Context, folder, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, folder+"/"+name)
	f.deleted = append(f.deleted, folder+"/"+name)
	return nil
}

func (f *fakeImages) URL(folder, name string) string {
	return "/img/" + folder + "/" + name
}

func (f *fakeImages) has(folder, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[folder+"/"+name]
	return ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngUpload(t *testing.T) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 30))); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return &buf
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int { return &n }
