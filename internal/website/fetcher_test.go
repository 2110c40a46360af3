package website_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/adinsight-api/internal/website"
)

const samplePage = `<!doctype html>
<html>
<head>
  <title>  Trail Shoes | Acme  </title>
  <meta name="description" content="Lightweight trail running shoes.">
  <meta name="keywords" content="trail shoes, running shoes, ,hiking">
  <style>body { color: red }</style>
  <script>var tracking = "ignore me";</script>
</head>
<body>
  <h1>Run <em>further</em></h1>
  <p>Free shipping on all orders.</p>
  <noscript>Enable JavaScript</noscript>
  <h2>Reviews</h2>
</body>
</html>`

func TestParse(t *testing.T) {
	c, err := website.Parse(strings.NewReader(samplePage))
	require.NoError(t, err)

	assert.Equal(t, "Trail Shoes | Acme", c.Title)
	assert.Equal(t, "Lightweight trail running shoes.", c.Description)
	assert.Equal(t, []string{"trail shoes", "running shoes", "hiking"}, c.MetaKeywords)
	assert.Equal(t, []string{"Run further", "Reviews"}, c.Headings)
	assert.Equal(t, "Run further Free shipping on all orders. Reviews", c.Text)
	assert.NotContains(t, c.Text, "tracking")
	assert.NotContains(t, c.Text, "JavaScript")
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c, err := website.NewFetcher(0, srv.Client()).Fetch(context.Background(), srv.URL+"/#top")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/", c.URL)
	assert.Equal(t, "Trail Shoes | Acme", c.Title)
}

func TestFetchRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := website.NewFetcher(0, nil).Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "unexpected status 410")
}

func TestFetchTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := website.NewFetcher(50*time.Millisecond, nil).Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "example.com", want: "https://example.com"},
		{in: " http://example.com/a#b ", want: "http://example.com/a"},
		{in: "ftp://example.com", wantErr: true},
		{in: "", wantErr: true},
		{in: "https://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := website.NormalizeURL(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, website.ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
