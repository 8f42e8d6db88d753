package listing

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Links point at neighbouring pages of the same listing. Prev and Next are
// omitted at the ends.
type Links struct {
	First string `json:"first"`
	Last  string `json:"last"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
}

// Envelope is the paginated response body.
type Envelope[T any] struct {
	Links   Links `json:"links"`
	Page    int   `json:"page"`
	Pages   int   `json:"pages"`
	PerPage int   `json:"per_page"`
	Total   int   `json:"total"`
	Data    []T   `json:"data"`
}

// Window describes which slice of a result set a page holds.
type Window struct {
	Page    int
	PerPage int
	Total   int
}

// Pages is ceil(Total/PerPage), 0 when there is nothing to show.
func (w Window) Pages() int {
	if w.PerPage <= 0 || w.Total <= 0 {
		return 0
	}
	return (w.Total + w.PerPage - 1) / w.PerPage
}

// Wrap builds the envelope for data. self is the absolute URL of the
// current request; every link repeats its query string with only page
// changed.
func Wrap[T any](w Window, data []T, self *url.URL) Envelope[T] {
	if data == nil {
		data = []T{}
	}
	pages := w.Pages()
	last := pages
	if last < 1 {
		last = 1
	}

	links := Links{
		First: PageURL(self, 1),
		Last:  PageURL(self, last),
	}
	if w.Page > 1 {
		links.Prev = PageURL(self, w.Page-1)
	}
	if w.Page < pages {
		links.Next = PageURL(self, w.Page+1)
	}

	return Envelope[T]{
		Links:   links,
		Page:    w.Page,
		Pages:   pages,
		PerPage: w.PerPage,
		Total:   w.Total,
		Data:    data,
	}
}

// PageURL returns self with its page parameter set to page. Other query
// parameters keep their original order and encoding; repeated page
// parameters collapse into one.
func PageURL(self *url.URL, page int) string {
	pageParam := "page=" + strconv.Itoa(page)

	var parts []string
	replaced := false
	for _, part := range strings.Split(self.RawQuery, "&") {
		if part == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if key == "page" {
			if !replaced {
				parts = append(parts, pageParam)
				replaced = true
			}
			continue
		}
		parts = append(parts, part)
	}
	if !replaced {
		parts = append(parts, pageParam)
	}

	u := *self
	u.RawQuery = strings.Join(parts, "&")
	u.Fragment = ""
	return u.String()
}

// SelfURL reconstructs the absolute URL of r. A non-empty publicBase
// (scheme and host, e.g. "https://api.example.com") takes precedence over
// the request's own host.
func SelfURL(r *http.Request, publicBase string) *url.URL {
	u := &url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	if publicBase != "" {
		if base, err := url.Parse(strings.TrimRight(publicBase, "/")); err == nil && base.Host != "" {
			u.Scheme = base.Scheme
			u.Host = base.Host
			u.Path = base.Path + r.URL.Path
			u.RawPath = ""
			return u
		}
	}

	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		u.Scheme = proto
	}
	u.Host = r.Host
	return u
}
