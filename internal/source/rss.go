package source

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// RSS 2.0 types
type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Atom types
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string   `xml:"title"`
	Link      atomLink `xml:"link"`
	Summary   string   `xml:"summary"`
	Content   string   `xml:"content"`
	Updated   string   `xml:"updated"`
	Published string   `xml:"published"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
}

// parseFeed decodes a feed body as RSS 2.0 first, then Atom. Individual
// malformed entries are skipped rather than failing the whole source.
func parseFeed(body []byte, src Source, fetchedAt time.Time) ([]Article, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		return convertRSSItems(rss.Channel.Items, src, fetchedAt), nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		return convertAtomEntries(atom.Entries, src, fetchedAt), nil
	}

	return nil, fmt.Errorf("feed is neither parseable RSS nor Atom")
}

func convertRSSItems(items []rssItem, src Source, fetchedAt time.Time) []Article {
	articles := make([]Article, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" || strings.TrimSpace(item.Link) == "" {
			continue
		}
		published := parseFeedTime(item.PubDate)
		if published.IsZero() {
			published = fetchedAt
		}
		articles = append(articles, Article{
			SourceID:    src.ID,
			SourceBias:  src.Bias,
			Title:       title,
			Body:        stripHTML(item.Description),
			ExternalURL: strings.TrimSpace(item.Link),
			PublishedAt: published,
			FetchedAt:   fetchedAt,
		})
	}
	return articles
}

func convertAtomEntries(entries []atomEntry, src Source, fetchedAt time.Time) []Article {
	articles := make([]Article, 0, len(entries))
	for _, entry := range entries {
		title := strings.TrimSpace(entry.Title)
		if title == "" || strings.TrimSpace(entry.Link.Href) == "" {
			continue
		}
		body := entry.Content
		if strings.TrimSpace(body) == "" {
			body = entry.Summary
		}
		stamp := entry.Published
		if stamp == "" {
			stamp = entry.Updated
		}
		published := parseFeedTime(stamp)
		if published.IsZero() {
			published = fetchedAt
		}
		articles = append(articles, Article{
			SourceID:    src.ID,
			SourceBias:  src.Bias,
			Title:       title,
			Body:        stripHTML(body),
			ExternalURL: strings.TrimSpace(entry.Link.Href),
			PublishedAt: published,
			FetchedAt:   fetchedAt,
		})
	}
	return articles
}

// parseFeedTime tries the timestamp formats seen across real feeds. An
// unparseable date yields the zero time; the converters then substitute
// the fetch time so the entry stays inside digest and listing windows.
func parseFeedTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"Mon, 2 Jan 2006 15:04:05 -0700",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// stripHTML reduces feed entry markup to plain text.
func stripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(strings.Join(strings.Fields(doc.Text()), " "))
}
