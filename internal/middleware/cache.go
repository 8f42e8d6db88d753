package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/sakif/recipebox/internal/cache"
	"github.com/sakif/recipebox/internal/listing"
)

// CacheKey is the request path followed by "?" and the raw query string.
// Two requests share an entry only if their query strings are byte-equal.
//
// Cached listing bodies hold absolute page links. With a fixed publicBase
// those links are the same for every client. Without one they are built
// from the request's Host and X-Forwarded-Proto, so the scheme and host are
// appended to the key; otherwise one request with a forged Host would set
// the links every later client receives. The separator is a space, which
// cannot appear in a request target, and the key still starts with the
// path so prefix invalidation keeps working.
func CacheKey(r *http.Request, publicBase string) string {
	key := r.URL.Path + "?" + r.URL.RawQuery
	if publicBase != "" {
		return key
	}
	self := listing.SelfURL(r, "")
	return key + " " + self.Scheme + "://" + self.Host
}

// uncacheable carries a response that must reach the client but not the
// cache.
type uncacheable struct {
	rec *bufferedResponse
}

func (uncacheable) Error() string { return "response not cacheable" }

// CacheResponses serves GET requests from c. On a miss the wrapped handler
// renders into a buffer; only 200 responses are stored. Responses carry
// X-Cache: HIT or MISS. publicBase must be the value the wrapped handler
// builds its links from; see CacheKey.
//
// The stage buffers the handler's output instead of streaming it, because
// the decision to store is only known once the status code is. Anything
// other than 200 is replayed to the client and forgotten.
func CacheResponses(c *cache.ResponseCache, publicBase string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			var rendered *bufferedResponse
			body, err := c.GetOrCompute(r.Context(), CacheKey(r, publicBase), func(context.Context) ([]byte, error) {
				rendered = newBufferedResponse()
				next.ServeHTTP(rendered, r)
				if rendered.status != http.StatusOK {
					return nil, uncacheable{rec: rendered}
				}
				return rendered.body.Bytes(), nil
			})

			var skip uncacheable
			switch {
			case errors.As(err, &skip):
				skip.rec.replay(w, "MISS")
			case err != nil:
				// ComputeFunc only fails with uncacheable.
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			case rendered != nil:
				rendered.replay(w, "MISS")
			default:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(body)
			}
		})
	}
}

// bufferedResponse is an http.ResponseWriter that keeps everything in
// memory until replayed.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(code int) {
	if b.wrote {
		return
	}
	b.status = code
	b.wrote = true
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.wrote = true
	return b.body.Write(p)
}

func (b *bufferedResponse) replay(w http.ResponseWriter, cacheStatus string) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	dst.Set("X-Cache", cacheStatus)
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
