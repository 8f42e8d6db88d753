package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DBDriver:     "sqlite",
		DatabaseURL:  ":memory:",
		JWTSecret:    "test-secret-at-least-16-chars!!",
		TokenTTL:     time.Minute,
		PasswordCost: 4,
		CacheBackend: CacheMemory,
		CacheTTL:     time.Minute,
		ImageBackend: ImagesLocal,
		ImageDir:     t.TempDir(),
	}
}

// testAPI is a running server plus a small JSON client.
type testAPI struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestAPI(t *testing.T, cfg Config) *testAPI {
	t.Helper()
	s, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return &testAPI{t: t, srv: srv}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) decode(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, dst), "body: %s", r.body)
}

func (a *testAPI) do(method, path, token string, body io.Reader, contentType string) response {
	a.t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, body)
	require.NoError(a.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(a.t, err)
	return response{status: res.StatusCode, header: res.Header, body: data}
}

func (a *testAPI) json(method, path, token string, payload any) response {
	a.t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(a.t, err)
		body = bytes.NewReader(data)
	}
	return a.do(method, path, token, body, "application/json")
}

// signUp registers username and returns an access token.
func (a *testAPI) signUp(username string) string {
	a.t.Helper()
	email := username + "@example.com"
	res := a.json(http.MethodPost, "/users", "", map[string]string{
		"username": username, "email": email, "password": "secret-" + username,
	})
	require.Equal(a.t, http.StatusCreated, res.status, "register: %s", res.body)

	res = a.json(http.MethodPost, "/token", "", map[string]string{
		"email": email, "password": "secret-" + username,
	})
	require.Equal(a.t, http.StatusOK, res.status, "login: %s", res.body)
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	res.decode(a.t, &tok)
	return tok.AccessToken
}

type recipeBody struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CookTime  *int   `json:"cook_time"`
	IsPublish bool   `json:"is_publish"`
	CoverURL  string `json:"cover_url"`
	Author    *struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"author"`
}

type pageBody struct {
	Links struct {
		First string `json:"first"`
		Last  string `json:"last"`
		Prev  string `json:"prev"`
		Next  string `json:"next"`
	} `json:"links"`
	Page    int          `json:"page"`
	Pages   int          `json:"pages"`
	PerPage int          `json:"per_page"`
	Total   int          `json:"total"`
	Data    []recipeBody `json:"data"`
}

func (a *testAPI) createRecipe(token, name string, publish bool) recipeBody {
	a.t.Helper()
	res := a.json(http.MethodPost, "/recipes", token, map[string]any{"name": name, "cook_time": 10})
	require.Equal(a.t, http.StatusCreated, res.status, "create: %s", res.body)
	var r recipeBody
	res.decode(a.t, &r)
	if publish {
		res = a.do(http.MethodPut, "/recipes/"+r.ID+"/publish", token, nil, "")
		require.Equal(a.t, http.StatusNoContent, res.status)
		r.IsPublish = true
	}
	return r
}

func (a *testAPI) list(path, token string) (pageBody, response) {
	a.t.Helper()
	res := a.do(http.MethodGet, path, token, nil, "")
	require.Equal(a.t, http.StatusOK, res.status, "list %s: %s", path, res.body)
	var p pageBody
	res.decode(a.t, &p)
	return p, res
}

func TestRecipeLifecycle(t *testing.T) {
	api := newTestAPI(t, testConfig(t))
	alice := api.signUp("alice")
	bob := api.signUp("bob")

	draft := api.createRecipe(alice, "Tomato soup", false)
	assert.False(t, draft.IsPublish)
	require.NotNil(t, draft.Author)
	assert.Equal(t, "alice", draft.Author.Username)
	assert.Empty(t, draft.Author.Email)

	// Drafts are visible to their owner only.
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/recipes/"+draft.ID, "", nil, "").status)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/recipes/"+draft.ID, bob, nil, "").status)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/recipes/"+draft.ID, alice, nil, "").status)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/recipes/does-not-exist", alice, nil, "").status)

	page, _ := api.list("/recipes", "")
	assert.Equal(t, 0, page.Total)

	// Publishing makes it visible and drops the cached listing.
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodPut, "/recipes/"+draft.ID+"/publish", alice, nil, "").status)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodPut, "/recipes/"+draft.ID+"/publish", alice, nil, "").status)
	page, res := api.list("/recipes", "")
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "MISS", res.header.Get("X-Cache"))
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/recipes/"+draft.ID, "", nil, "").status)

	_, cached := api.list("/recipes", "")
	assert.Equal(t, "HIT", cached.header.Get("X-Cache"))
	assert.Equal(t, res.body, cached.body)

	// Only the owner may change it.
	res = api.json(http.MethodPatch, "/recipes/"+draft.ID, bob, map[string]any{"name": "Bob's soup"})
	assert.Equal(t, http.StatusForbidden, res.status)
	res = api.json(http.MethodPatch, "/recipes/"+draft.ID, "", map[string]any{"name": "Anon soup"})
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = api.json(http.MethodPatch, "/recipes/"+draft.ID, alice, map[string]any{"cook_time": 25})
	require.Equal(t, http.StatusOK, res.status, "%s", res.body)
	var updated recipeBody
	res.decode(t, &updated)
	assert.Equal(t, "Tomato soup", updated.Name)
	require.NotNil(t, updated.CookTime)
	assert.Equal(t, 25, *updated.CookTime)

	page, res = api.list("/recipes", "")
	assert.Equal(t, "MISS", res.header.Get("X-Cache"), "update invalidates the listing")
	require.Len(t, page.Data, 1)
	assert.Equal(t, 25, *page.Data[0].CookTime)

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/recipes/"+draft.ID+"/publish", alice, nil, "").status)
	page, _ = api.list("/recipes", "")
	assert.Equal(t, 0, page.Total)

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodDelete, "/recipes/"+draft.ID, bob, nil, "").status)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/recipes/"+draft.ID, alice, nil, "").status)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/recipes/"+draft.ID, alice, nil, "").status)
}

func TestListingPagination(t *testing.T) {
	api := newTestAPI(t, testConfig(t))
	alice := api.signUp("alice")
	for i := 0; i < 45; i++ {
		api.createRecipe(alice, fmt.Sprintf("Recipe %02d", i), true)
	}
	api.createRecipe(alice, "Hidden draft", false)

	page, _ := api.list("/recipes?q=recipe&page=3", "")
	assert.Equal(t, 45, page.Total)
	assert.Equal(t, 3, page.Pages)
	assert.Equal(t, 20, page.PerPage)
	assert.Len(t, page.Data, 5)
	assert.Empty(t, page.Links.Next)
	assert.Equal(t, api.srv.URL+"/recipes?q=recipe&page=2", page.Links.Prev)
	assert.Equal(t, api.srv.URL+"/recipes?q=recipe&page=1", page.Links.First)
	assert.Equal(t, api.srv.URL+"/recipes?q=recipe&page=3", page.Links.Last)

	// Out-of-range and junk parameters fall back instead of failing.
	page, _ = api.list("/recipes?page=abc&per_page=-4&sort=bogus&order=sideways", "")
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PerPage)
	assert.Len(t, page.Data, 20)

	page, _ = api.list("/recipes?per_page=1000", "")
	assert.Equal(t, 100, page.PerPage)
	assert.Len(t, page.Data, 45)

	page, _ = api.list("/recipes?page=9", "")
	assert.Empty(t, page.Data)
	assert.Equal(t, 3, page.Pages)

	page, _ = api.list("/recipes?q=nothing-matches", "")
	assert.Equal(t, 0, page.Pages)
	assert.Equal(t, api.srv.URL+"/recipes?q=nothing-matches&page=1", page.Links.Last)
}

func TestListingCacheIsPerHost(t *testing.T) {
	api := newTestAPI(t, testConfig(t))
	alice := api.signUp("alice")
	api.createRecipe(alice, "Chocolate cake", true)

	getWithHost := func(host string) (pageBody, response) {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, api.srv.URL+"/recipes?q=choc", nil)
		require.NoError(t, err)
		req.Host = host
		res, err := api.srv.Client().Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, res.StatusCode, "%s", body)
		var p pageBody
		require.NoError(t, json.Unmarshal(body, &p))
		return p, response{status: res.StatusCode, header: res.Header, body: body}
	}

	getWithHost("evil.example")
	page, res := getWithHost("api.example.com")
	assert.Equal(t, "MISS", res.header.Get("X-Cache"))
	assert.Equal(t, "http://api.example.com/recipes?q=choc&page=1", page.Links.First)

	page, res = getWithHost("api.example.com")
	assert.Equal(t, "HIT", res.header.Get("X-Cache"))
	assert.Equal(t, "http://api.example.com/recipes?q=choc&page=1", page.Links.First)
}

func TestListingCacheWithFixedBaseURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.BaseURL = "https://recipes.example.org"
	api := newTestAPI(t, cfg)

	for i, want := range []string{"MISS", "HIT"} {
		req, err := http.NewRequest(http.MethodGet, api.srv.URL+"/recipes", nil)
		require.NoError(t, err)
		req.Host = fmt.Sprintf("host%d.example", i)
		res, err := api.srv.Client().Do(req)
		require.NoError(t, err)
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, want, res.Header.Get("X-Cache"))
		assert.Contains(t, string(body), `"first":"https://recipes.example.org/recipes?page=1"`)
	}
}

func TestUserListingVisibility(t *testing.T) {
	api := newTestAPI(t, testConfig(t))
	alice := api.signUp("alice")
	bob := api.signUp("bob")
	api.createRecipe(alice, "Public pie", true)
	api.createRecipe(alice, "Secret stew", false)

	tests := []struct {
		name      string
		token     string
		query     string
		wantTotal int
	}{
		{"owner sees all", alice, "?visibility=all", 2},
		{"owner sees private", alice, "?visibility=private", 1},
		{"owner default is public", alice, "", 1},
		{"other user forced to public", bob, "?visibility=all", 1},
		{"anonymous forced to public", "", "?visibility=private", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, _ := api.list("/users/alice/recipes"+tt.query, tt.token)
			assert.Equal(t, tt.wantTotal, page.Total)
		})
	}

	res := api.do(http.MethodGet, "/users/nobody/recipes", "", nil, "")
	assert.Equal(t, http.StatusNotFound, res.status)
}

func TestValidationRejectsBeforeWriting(t *testing.T) {
	api := newTestAPI(t, testConfig(t))
	alice := api.signUp("alice")

	res := api.json(http.MethodPost, "/recipes", alice, map[string]any{"name": "Slow", "cook_time": 0})
	require.Equal(t, http.StatusBadRequest, res.status)
	var body struct {
		Error  string            `json:"error"`
		Errors map[string]string `json:"errors"`
	}
	res.decode(t, &body)
	assert.Equal(t, "validation_error", body.Error)
	assert.Contains(t, body.Errors, "cook_time")

	page, _ := api.list("/users/alice/recipes?visibility=all", alice)
	assert.Equal(t, 0, page.Total)

	res = api.json(http.MethodPost, "/recipes", "", map[string]any{"name": "Anon"})
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestAccounts(t *testing.T) {
	api := newTestAPI(t, testConfig(t))
	alice := api.signUp("alice")

	res := api.json(http.MethodPost, "/users", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "pw",
	})
	assert.Equal(t, http.StatusConflict, res.status)

	res = api.json(http.MethodPost, "/token", "", map[string]string{"email": "alice@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = api.do(http.MethodGet, "/me", alice, nil, "")
	require.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, string(res.body), "alice@example.com")

	res = api.do(http.MethodGet, "/users/alice", "", nil, "")
	require.Equal(t, http.StatusOK, res.status)
	assert.NotContains(t, string(res.body), "alice@example.com")

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/me", "", nil, "").status)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/me", "not-a-token", nil, "").status)
}

func pngBody(t *testing.T, field string) (*bytes.Buffer, string) {
	t.Helper()
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 1200, 600))))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "photo.png")
	require.NoError(t, err)
	_, err = fw.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploads(t *testing.T) {
	api := newTestAPI(t, testConfig(t))
	alice := api.signUp("alice")
	bob := api.signUp("bob")
	r := api.createRecipe(alice, "Pancakes", true)
	assert.True(t, strings.HasSuffix(r.CoverURL, "/static/images/assets/default-recipe-cover.jpg"), r.CoverURL)

	body, contentType := pngBody(t, "cover")
	res := api.do(http.MethodPut, "/recipes/"+r.ID+"/cover", bob, body, contentType)
	assert.Equal(t, http.StatusForbidden, res.status)

	body, contentType = pngBody(t, "cover")
	res = api.do(http.MethodPut, "/recipes/"+r.ID+"/cover", alice, body, contentType)
	require.Equal(t, http.StatusOK, res.status, "%s", res.body)
	var withCover recipeBody
	res.decode(t, &withCover)
	require.Contains(t, withCover.CoverURL, "/static/images/recipes/")

	img := api.do(http.MethodGet, withCover.CoverURL, "", nil, "")
	require.Equal(t, http.StatusOK, img.status)
	decoded, format, err := image.Decode(bytes.NewReader(img.body))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 800, decoded.Bounds().Dx())
	assert.Equal(t, 400, decoded.Bounds().Dy())

	body, contentType = pngBody(t, "avatar")
	res = api.do(http.MethodPut, "/users/avatar", alice, body, contentType)
	require.Equal(t, http.StatusOK, res.status, "%s", res.body)
	assert.Contains(t, string(res.body), "/static/images/avatars/")

	var text bytes.Buffer
	mw := multipart.NewWriter(&text)
	fw, _ := mw.CreateFormFile("cover", "notes.txt")
	_, _ = fw.Write([]byte("definitely not an image"))
	require.NoError(t, mw.Close())
	res = api.do(http.MethodPut, "/recipes/"+r.ID+"/cover", alice, &text, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Contains(t, string(res.body), "File type not allowed")
}

func TestListingRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = "3/minute;30/hour;300/day"
	api := newTestAPI(t, cfg)

	for i := 0; i < 3; i++ {
		res := api.do(http.MethodGet, "/recipes", "", nil, "")
		require.Equal(t, http.StatusOK, res.status)
		assert.Equal(t, "3", res.header.Get("X-RateLimit-Limit"))
	}
	res := api.do(http.MethodGet, "/recipes", "", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, res.status)
	assert.NotEmpty(t, res.header.Get("Retry-After"))

	// Other routes are not limited.
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/healthz", "", nil, "").status)
}

func TestOperationalEndpoints(t *testing.T) {
	api := newTestAPI(t, testConfig(t))
	api.list("/recipes", "")

	res := api.do(http.MethodGet, "/healthz", "", nil, "")
	require.Equal(t, http.StatusOK, res.status)
	assert.JSONEq(t, `{"status":"ok","checks":{"database":"ok"}}`, string(res.body))

	res = api.do(http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, string(res.body), "recipebox_http_requests_total")
	assert.Contains(t, string(res.body), "recipebox_response_cache_lookups_total")
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig(t)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.JWTSecret = "short" }},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"redis cache without url", func(c *Config) { c.CacheBackend = CacheRedis }},
		{"zero cache ttl", func(c *Config) { c.CacheTTL = 0 }},
		{"bad rate limit", func(c *Config) { c.RateLimit = "lots" }},
		{"s3 without bucket", func(c *Config) { c.ImageBackend = ImagesS3 }},
		{"relative base url", func(c *Config) { c.BaseURL = "api.example.com" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
