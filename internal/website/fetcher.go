// Package website downloads a page and reduces it to the text used for
// keyword extraction.
package website

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodySize    = 2 << 20
	maxTextSize    = 20000
	userAgent      = "adinsight-bot/1.0 (+https://github.com/HanTheDev/adinsight-api)"
)

var ErrInvalidURL = errors.New("invalid website url")

type Content struct {
	URL          string   `json:"url"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	MetaKeywords []string `json:"meta_keywords"`
	Headings     []string `json:"headings"`
	Text         string   `json:"text"`
}

type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher returns a Fetcher that aborts each download after timeout
// (DefaultTimeout when zero).
func NewFetcher(timeout time.Duration, client *http.Client) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{client: client, timeout: timeout}
}

// NormalizeURL adds an https scheme when missing and rejects anything that
// is not an absolute http(s) URL.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	u.Fragment = ""
	return u.String(), nil
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Content, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}

	content, err := Parse(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}
	content.URL = target
	return content, nil
}

// Parse extracts title, meta tags, headings and visible text from an HTML document.
func Parse(r io.Reader) (*Content, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	c := &Content{MetaKeywords: []string{}, Headings: []string{}}
	var text strings.Builder
	walk(doc, c, &text)
	c.Text = truncate(collapse(text.String()), maxTextSize)
	return c, nil
}

func walk(n *html.Node, c *Content, text *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Svg, atom.Template, atom.Iframe:
			return
		case atom.Title:
			if c.Title == "" {
				c.Title = collapse(nodeText(n))
			}
			return
		case atom.Meta:
			readMeta(n, c)
		case atom.H1, atom.H2, atom.H3:
			if h := collapse(nodeText(n)); h != "" {
				c.Headings = append(c.Headings, h)
			}
		}
	}
	if n.Type == html.TextNode {
		text.WriteString(n.Data)
		text.WriteByte(' ')
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walk(child, c, text)
	}
}

func readMeta(n *html.Node, c *Content) {
	var name, content string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "name", "property":
			name = strings.ToLower(a.Val)
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	switch name {
	case "description", "og:description":
		if c.Description == "" {
			c.Description = content
		}
	case "keywords":
		for _, kw := range strings.Split(content, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				c.MetaKeywords = append(c.MetaKeywords, kw)
			}
		}
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
