package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const (
	webUserAgent    = "Mozilla/5.0 (compatible; toolrelay)"
	maxRedirects    = 5
	defaultMaxChars = 50_000
	maxBodyBytes    = 5 << 20
)

type fetchInput struct {
	URL         string `json:"url" jsonschema:"description=URL to fetch"`
	ExtractMode string `json:"extractMode,omitempty" jsonschema:"enum=markdown,enum=text,description=Output format for HTML pages"`
	MaxChars    int    `json:"maxChars,omitempty" jsonschema:"minimum=100,description=Truncate the extracted text to this many characters"`
}

type fetchOutput struct {
	URL       string `json:"url"`
	FinalURL  string `json:"finalUrl"`
	Status    int    `json:"status"`
	Extractor string `json:"extractor"`
	Truncated bool   `json:"truncated"`
	Length    int    `json:"length"`
	Text      string `json:"text"`
}

// Fetcher downloads pages and extracts their readable content.
type Fetcher struct {
	client   *http.Client
	maxChars int
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		maxChars: defaultMaxChars,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Tool exposes the fetcher as web_fetch.
func (f *Fetcher) Tool() Tool {
	return NewTool("web_fetch", "Fetch a URL and extract its readable content (HTML as markdown or text)", f.fetch)
}

func (f *Fetcher) fetch(ctx context.Context, in fetchInput) (any, error) {
	u, err := validateURL(in.URL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	text, extractor := extract(body, resp.Header.Get("Content-Type"), u, in.ExtractMode != "text")

	limit := f.maxChars
	if in.MaxChars > 0 {
		limit = in.MaxChars
	}
	truncated := len(text) > limit
	if truncated {
		text = text[:limit]
	}

	return fetchOutput{
		URL:       in.URL,
		FinalURL:  resp.Request.URL.String(),
		Status:    resp.StatusCode,
		Extractor: extractor,
		Truncated: truncated,
		Length:    len(text),
		Text:      text,
	}, nil
}

func validateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("only http/https allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing domain in URL")
	}
	return u, nil
}

// extract renders body by content type and names the extractor used.
func extract(body []byte, ctype string, u *url.URL, markdown bool) (string, string) {
	switch {
	case strings.Contains(ctype, "application/json"):
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err != nil {
			return string(body), "json"
		}
		return buf.String(), "json"

	case strings.Contains(ctype, "text/html") || isHTMLPrefix(body):
		article, err := readability.FromReader(bytes.NewReader(body), u)
		if err != nil {
			return stripHTMLTags(string(body)), "strip"
		}
		var text string
		if markdown {
			text = htmlToMarkdown(article.Content)
		} else {
			text = stripHTMLTags(article.Content)
		}
		if article.Title != "" {
			text = "# " + article.Title + "\n\n" + text
		}
		return text, "readability"
	}
	return string(body), "raw"
}

func isHTMLPrefix(b []byte) bool {
	prefix := strings.ToLower(strings.TrimSpace(string(b[:min(256, len(b))])))
	return strings.HasPrefix(prefix, "<!doctype") || strings.HasPrefix(prefix, "<html")
}

var (
	reScript    = regexp.MustCompile(`(?is)<script.*?</script>`)
	reStyle     = regexp.MustCompile(`(?is)<style.*?</style>`)
	reTags      = regexp.MustCompile(`<[^>]+>`)
	reSpaces    = regexp.MustCompile(`[ \t]+`)
	reNewlines  = regexp.MustCompile(`\n{3,}`)
	reLinks     = regexp.MustCompile(`(?is)<a\s+[^>]*href=["']([^"']+)["'][^>]*>(.*?)</a>`)
	reHeadings  = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	reListItems = regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`)
	reBlockEnd  = regexp.MustCompile(`(?is)</(p|div|section|article)>`)
	reLineBreak = regexp.MustCompile(`(?is)<(br|hr)\s*/?>`)
)

func stripHTMLTags(text string) string {
	text = reScript.ReplaceAllString(text, "")
	text = reStyle.ReplaceAllString(text, "")
	text = reTags.ReplaceAllString(text, "")
	return normalizeWhitespace(text)
}

func htmlToMarkdown(html string) string {
	text := reLinks.ReplaceAllStringFunc(html, func(m string) string {
		parts := reLinks.FindStringSubmatch(m)
		return fmt.Sprintf("[%s](%s)", stripHTMLTags(parts[2]), parts[1])
	})
	text = reHeadings.ReplaceAllStringFunc(text, func(m string) string {
		parts := reHeadings.FindStringSubmatch(m)
		level := int(parts[1][0] - '0')
		return fmt.Sprintf("\n%s %s\n", strings.Repeat("#", level), stripHTMLTags(parts[2]))
	})
	text = reListItems.ReplaceAllStringFunc(text, func(m string) string {
		return "\n- " + stripHTMLTags(reListItems.FindStringSubmatch(m)[1])
	})
	text = reBlockEnd.ReplaceAllString(text, "\n\n")
	text = reLineBreak.ReplaceAllString(text, "\n")
	return stripHTMLTags(text)
}

func normalizeWhitespace(text string) string {
	text = reSpaces.ReplaceAllString(text, " ")
	text = reNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Web is the built-in server offering web_fetch.
func Web(version string) *Server {
	return New("toolrelay-web", version, NewFetcher(30*time.Second).Tool())
}
