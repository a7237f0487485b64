package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/truescope/truescope/internal/config"
)

func TestParseBias(t *testing.T) {
	for _, valid := range []string{"LEFT", "RIGHT", "CENTER"} {
		if _, err := ParseBias(valid); err != nil {
			t.Fatalf("expected %s to parse, got %v", valid, err)
		}
	}
	for _, invalid := range []string{"left", "FAR-LEFT", ""} {
		if _, err := ParseBias(invalid); err == nil {
			t.Fatalf("expected %q to be rejected", invalid)
		}
	}
}

func TestNewCatalog_RejectsDuplicateIDs(t *testing.T) {
	_, err := NewCatalog([]config.SourceConfig{
		{ID: "a", FeedURL: "https://example.com/1", Bias: "LEFT"},
		{ID: "a", FeedURL: "https://example.com/2", Bias: "RIGHT"},
	})
	if err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestCatalog_Enabled(t *testing.T) {
	c, err := NewCatalog([]config.SourceConfig{
		{ID: "on", FeedURL: "https://example.com/1", Bias: "LEFT", Enabled: true},
		{ID: "off", FeedURL: "https://example.com/2", Bias: "RIGHT", Enabled: false},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.All()) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(c.All()))
	}
	enabled := c.Enabled()
	if len(enabled) != 1 || enabled[0].ID != "on" {
		t.Fatalf("expected only the enabled source, got %+v", enabled)
	}
}

func TestParseFeed_RSS(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Wire</title>
<item>
  <title>Senate passes budget bill</title>
  <link>https://example.com/budget</link>
  <description>&lt;p&gt;The &lt;b&gt;Senate&lt;/b&gt; passed the bill.&lt;/p&gt;&lt;script&gt;alert(1)&lt;/script&gt;</description>
  <pubDate>Thu, 01 May 2026 08:00:00 +0000</pubDate>
</item>
<item>
  <title></title>
  <link>https://example.com/untitled</link>
</item>
<item>
  <title>No link here</title>
</item>
</channel></rss>`)

	src := Source{ID: "s1", Bias: BiasLeft}
	articles, err := parseFeed(body, src, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected malformed entries skipped, got %d articles", len(articles))
	}
	a := articles[0]
	if a.Title != "Senate passes budget bill" || a.SourceBias != BiasLeft {
		t.Fatalf("unexpected article: %+v", a)
	}
	if a.Body != "The Senate passed the bill." {
		t.Fatalf("expected markup stripped, got %q", a.Body)
	}
	want := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	if !a.PublishedAt.Equal(want) {
		t.Fatalf("expected %s, got %s", want, a.PublishedAt)
	}
}

func TestParseFeed_Atom(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Wire</title>
  <entry>
    <title>Wildfire spreads across county</title>
    <link href="https://example.com/wildfire"/>
    <summary>Crews respond.</summary>
    <updated>2026-05-01T08:00:00Z</updated>
  </entry>
</feed>`)

	articles, err := parseFeed(body, Source{ID: "s1", Bias: BiasCenter}, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	if articles[0].ExternalURL != "https://example.com/wildfire" {
		t.Fatalf("unexpected link: %q", articles[0].ExternalURL)
	}
	if articles[0].Body != "Crews respond." {
		t.Fatalf("expected summary as body, got %q", articles[0].Body)
	}
}

func TestParseFeed_Garbage(t *testing.T) {
	if _, err := parseFeed([]byte("not a feed at all"), Source{ID: "s1"}, time.Now()); err == nil {
		t.Fatal("expected parse error for non-feed body")
	}
}

func TestParseFeed_MissingDateFallsBackToFetchTime(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Wire</title>
<item>
  <title>Undated story</title>
  <link>https://example.com/undated</link>
</item>
<item>
  <title>Badly dated story</title>
  <link>https://example.com/baddate</link>
  <pubDate>sometime yesterday</pubDate>
</item>
</channel></rss>`)

	fetchedAt := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	articles, err := parseFeed(body, Source{ID: "s1", Bias: BiasLeft}, fetchedAt)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(articles))
	}
	// A zero publish time would fall outside every digest and listing
	// window; undated entries take the fetch time instead.
	for _, a := range articles {
		if !a.PublishedAt.Equal(fetchedAt) {
			t.Fatalf("article %q: expected fetch-time fallback %s, got %s", a.Title, fetchedAt, a.PublishedAt)
		}
	}
}

func TestParseFeedTime_UnparseableYieldsZero(t *testing.T) {
	if got := parseFeedTime("sometime yesterday"); !got.IsZero() {
		t.Fatalf("expected zero time, got %s", got)
	}
	got := parseFeedTime("Thu, 01 May 2026 08:00:00 GMT")
	if got.IsZero() {
		t.Fatal("expected RFC1123 date to parse")
	}
}

func TestFetchAll_IsolatesFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>
<item><title>Story one</title><link>https://example.com/1</link></item>
</channel></rss>`)
	}))
	t.Cleanup(good.Close)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(bad.Close)

	f := NewFetcher(2*time.Second, "truescope-test/1.0")
	results := f.FetchAll(context.Background(), []Source{
		{ID: "good", FeedURL: good.URL, Bias: BiasLeft, Enabled: true},
		{ID: "bad", FeedURL: bad.URL, Bias: BiasRight, Enabled: true},
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	byID := map[string]FetchResult{}
	for _, r := range results {
		byID[r.Source.ID] = r
	}
	if byID["good"].Err != nil || len(byID["good"].Articles) != 1 {
		t.Fatalf("expected the good source to succeed: %+v", byID["good"])
	}
	if byID["bad"].Err == nil {
		t.Fatal("expected the bad source to report an error")
	}
}

func TestFetchAll_TimeoutDoesNotBlockOthers(t *testing.T) {
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>
<item><title>Story one</title><link>https://example.com/1</link></item>
</channel></rss>`)
	}))
	t.Cleanup(fast.Close)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)

	f := NewFetcher(200*time.Millisecond, "truescope-test/1.0")
	start := time.Now()
	results := f.FetchAll(context.Background(), []Source{
		{ID: "fast", FeedURL: fast.URL, Bias: BiasLeft},
		{ID: "slow", FeedURL: slow.URL, Bias: BiasRight},
	})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("fetch round took %s, slow source blocked the batch", elapsed)
	}

	for _, r := range results {
		switch r.Source.ID {
		case "fast":
			if r.Err != nil {
				t.Fatalf("fast source failed: %v", r.Err)
			}
		case "slow":
			if r.Err == nil {
				t.Fatal("expected timeout error from slow source")
			}
		}
	}
}

func TestProbe(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD probe, got %s", r.Method)
		}
	}))
	t.Cleanup(up.Close)

	f := NewFetcher(time.Second, "truescope-test/1.0")
	if err := f.Probe(context.Background(), Source{ID: "up", FeedURL: up.URL}); err != nil {
		t.Fatal(err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(down.Close)
	if err := f.Probe(context.Background(), Source{ID: "down", FeedURL: down.URL}); err == nil {
		t.Fatal("expected probe failure for 500 status")
	}
}

func TestStripHTML(t *testing.T) {
	got := stripHTML(`<div><p>Hello <b>world</b></p><style>p{}</style></div>`)
	if got != "Hello world" {
		t.Fatalf("expected %q, got %q", "Hello world", got)
	}
	if got := stripHTML("plain text"); got != "plain text" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
