package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Allows(t *testing.T) {
	f := NewFilter(DefaultExcludePatterns)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://shop.test/blog/running-shoes", true},
		{"https://shop.test/wp-admin/edit.php", false},
		{"https://shop.test/API/v1/items", false},
		{"https://admin.shop.test/blog", true},
		{"https://shop.test/post?replytocom=12", false},
		{"/cart", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, f.Allows(tc.url), tc.url)
	}
}

func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/": `<html><head><title> Trail Hub </title><script>var tracking = "ignored";</script></head>
<body><h1>Welcome to the trail running hub</h1>
<a href="/a">A</a> <a href="b">B</a> <a href="/admin/settings">admin</a>
<a href="http://other.test/x">external</a> <a href="#top">top</a> <a href="mailto:hi@shop.test">mail</a>
<a href="/a#section">A again</a></body></html>`,
		"/a": `<html><head><title>A</title></head><body>Alpha page <a href="/c">C</a> <a href="/">home</a></body></html>`,
		"/c": `<html><head><title>C</title></head><body>Charlie page <a href="/d">D</a></body></html>`,
		"/d": `<html><head><title>D</title></head><body>Delta page <a href="/e">E</a></body></html>`,
		"/e": `<html><head><title>E</title></head><body>Echo page</body></html>`,
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
}

func TestSite_CrawlRespectsDepthAndSkipsFailures(t *testing.T) {
	srv := newTestSite(t)
	defer srv.Close()

	pages, err := NewSite(Options{}).Crawl(context.Background(), srv.URL)
	require.NoError(t, err)

	byURL := make(map[string]Page)
	for _, p := range pages {
		byURL[p.URL] = p
	}
	assert.Len(t, pages, 4)
	for _, path := range []string{"/", "/a", "/c", "/d"} {
		assert.Contains(t, byURL, srv.URL+path)
	}
	assert.NotContains(t, byURL, srv.URL+"/e")
	assert.NotContains(t, byURL, srv.URL+"/b")

	home := byURL[srv.URL+"/"]
	assert.Equal(t, "Trail Hub", home.Title)
	assert.Contains(t, home.Content, "Welcome to the trail running hub")
	assert.NotContains(t, home.Content, "tracking")
	assert.Equal(t, []string{srv.URL + "/", srv.URL + "/a", srv.URL + "/b"}, home.Links)
}

func TestSite_CrawlStopsAtMaxPages(t *testing.T) {
	srv := newTestSite(t)
	defer srv.Close()

	pages, err := NewSite(Options{MaxPages: 2}).Crawl(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestSite_RootFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewSite(Options{}).Crawl(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestSite_InvalidURL(t *testing.T) {
	_, err := NewSite(Options{}).Crawl(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestAPI_Crawl(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req apiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://shop.test", req.URL)
		assert.Equal(t, 3, req.MaxDepth)
		assert.Equal(t, 100, req.PageLimit)
		assert.Contains(t, req.ExcludePatterns, "/wp-admin")

		json.NewEncoder(w).Encode([]apiPage{
			{URL: "https://shop.test/", Title: "Home", ExtractedContent: "  welcome \n home  ", Links: []string{"https://shop.test/a"}},
			{URL: "https://shop.test/a", Title: "A", ExtractedContent: "alpha", Topics: []string{"shoes"}},
			{URL: "https://shop.test/a", Title: "A dup", ExtractedContent: "dup"},
			{URL: "", Title: "broken"},
			{URL: "https://shop.test/wp-admin/", Title: "Admin"},
		})
	}))
	defer srv.Close()

	pages, err := NewAPI(srv.URL, "key", Options{}).Crawl(context.Background(), "https://shop.test")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "welcome home", pages[0].Content)
	assert.Equal(t, []string{"https://shop.test/a"}, pages[0].Links)
	assert.Equal(t, []string{"shoes"}, pages[1].Topics)
}

func TestAPI_ProviderErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewAPI(srv.URL, "", Options{}).Crawl(context.Background(), "https://shop.test")
	assert.Error(t, err)
}

func TestAPI_EmptyResultIsNoPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewAPI(srv.URL, "", Options{}).Crawl(context.Background(), "https://shop.test")
	assert.True(t, errors.Is(err, ErrNoPages))
}

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Trail Blog</title>
  <link>%[1]s</link>
  <item>
    <title>Choosing running shoes</title>
    <link>%[1]s/posts/shoes</link>
    <category>gear</category>
    <description><![CDATA[<p>How to pick <b>running shoes</b>. See <a href="%[1]s/posts/socks">socks</a>.</p>]]></description>
  </item>
  <item>
    <title>Socks that last</title>
    <link>%[1]s/posts/socks</link>
    <description>Merino socks for marathon training</description>
  </item>
</channel>
</rss>`

func TestFeed_Crawl(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feed.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, testFeed, srv.URL)
	}))
	defer srv.Close()

	pages, err := NewFeed("/feed.xml", Options{}).Crawl(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, srv.URL+"/posts/shoes", pages[0].URL)
	assert.Equal(t, "Choosing running shoes", pages[0].Title)
	assert.Equal(t, "How to pick running shoes. See socks.", pages[0].Content)
	assert.Equal(t, []string{"gear"}, pages[0].Topics)
	assert.Equal(t, []string{srv.URL + "/posts/socks"}, pages[0].Links)
	assert.Equal(t, "Merino socks for marathon training", pages[1].Content)
}

func TestFeed_MissingFeedIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewFeed("", Options{}).Crawl(context.Background(), srv.URL)
	assert.Error(t, err)
}
