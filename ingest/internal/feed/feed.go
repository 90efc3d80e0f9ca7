// Package feed parses RSS 2.0 and Atom 1.0 newsletter feeds into versioned
// items and tracks which item versions a source has already ingested.
//
// Auto-detects format from the XML root element:
//   - <rss ...> → RSS 2.0
//   - <rdf:RDF ...> → RSS 1.0
//   - <feed ...> → Atom 1.0
package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// Item is one feed entry with a comparable version.
type Item struct {
	Title       string
	Link        string
	ItemID      string
	PublishedAt time.Time
	UpdatedAt   time.Time
	// VersionISO is the UpdatedAt instant, stored in the cursor once the
	// item has been extracted.
	VersionISO string
	SortAt     time.Time
}

// Parse auto-detects RSS 2.0, RSS 1.0 or Atom 1.0 and returns items newest
// first.
// Entries without an http(s) link or an id are skipped.
func Parse(data []byte) ([]Item, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("feed: empty data")
	}

	var raw []rawItem
	var err error
	switch detectFormat(trimmed) {
	case "rss":
		raw, err = parseRSS(trimmed)
	case "rdf":
		raw, err = parseRDF(trimmed)
	case "atom":
		raw, err = parseAtom(trimmed)
	default:
		return nil, fmt.Errorf("feed: unknown format (expected <rss>, <rdf:RDF> or <feed>)")
	}
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		if it, ok := r.item(); ok {
			items = append(items, it)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].SortAt.After(items[j].SortAt) })
	return items, nil
}

type rawItem struct {
	title, link, guid, published, updated string
}

func (r rawItem) item() (Item, bool) {
	link := model.CleanText(r.link)
	id := model.CleanText(r.guid)
	if id == "" {
		id = link
	}
	if !model.IsHTTPURL(link) || id == "" {
		return Item{}, false
	}

	epoch := time.Unix(0, 0).UTC()
	published, pubOK := model.ParseDate(r.published)
	updated, updOK := model.ParseDate(r.updated)
	if !updOK {
		updated, updOK = published, pubOK
	}
	if !pubOK {
		published = epoch
	}
	if !updOK {
		updated = epoch
	}
	// Cursor versions are stored at millisecond precision.
	published = published.Truncate(time.Millisecond)
	updated = updated.Truncate(time.Millisecond)

	return Item{
		Title:       model.CleanText(r.title),
		Link:        link,
		ItemID:      id,
		PublishedAt: published,
		UpdatedAt:   updated,
		VersionISO:  model.FormatTime(updated),
		SortAt:      updated,
	}, true
}

func detectFormat(data []byte) string {
	// Look for the first element after the XML declaration.
	d := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			name := strings.ToLower(se.Name.Local)
			switch name {
			case "rss":
				return "rss"
			case "rdf":
				return "rdf"
			}
			if name == "feed" {
				return "atom"
			}
			return ""
		}
	}
}

// --- RSS 2.0 ---

type rssRoot struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

// rssItem matches by local name, so atom:published and atom:updated land
// next to pubDate.
type rssItem struct {
	GUID      string    `xml:"guid"`
	Title     string    `xml:"title"`
	Links     []xmlLink `xml:"link"`
	PubDate   string    `xml:"pubDate"`
	Published string    `xml:"published"`
	Updated   string    `xml:"updated"`
}

// xmlLink covers both <link>url</link> and <atom:link href="url"/>.
type xmlLink struct {
	Text string `xml:",chardata"`
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

func parseRSS(data []byte) ([]rawItem, error) {
	var root rssRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("feed: parse rss: %w", err)
	}

	out := make([]rawItem, 0, len(root.Channel.Items))
	for _, item := range root.Channel.Items {
		published := strings.TrimSpace(item.Published)
		if published == "" {
			published = strings.TrimSpace(item.PubDate)
		}
		updated := strings.TrimSpace(item.Updated)
		if updated == "" {
			updated = published
		}
		out = append(out, rawItem{
			title:     item.Title,
			link:      rssLink(item.Links),
			guid:      item.GUID,
			published: published,
			updated:   updated,
		})
	}
	return out, nil
}

func rssLink(links []xmlLink) string {
	for _, l := range links {
		if t := strings.TrimSpace(l.Text); t != "" {
			return t
		}
	}
	return atomLink(links)
}

// --- RSS 1.0 ---

// rdfRoot holds RSS 1.0 items, which sit beside the channel rather than
// inside it. dc:date matches by local name.
type rdfRoot struct {
	XMLName xml.Name  `xml:"RDF"`
	Items   []rdfItem `xml:"item"`
}

type rdfItem struct {
	About string `xml:"about,attr"`
	Title string `xml:"title"`
	Link  string `xml:"link"`
	Date  string `xml:"date"`
}

func parseRDF(data []byte) ([]rawItem, error) {
	var root rdfRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("feed: parse rdf: %w", err)
	}

	out := make([]rawItem, 0, len(root.Items))
	for _, item := range root.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			link = strings.TrimSpace(item.About)
		}
		date := strings.TrimSpace(item.Date)
		out = append(out, rawItem{
			title:     item.Title,
			link:      link,
			guid:      item.About,
			published: date,
			updated:   date,
		})
	}
	return out, nil
}

// --- Atom 1.0 ---

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string    `xml:"id"`
	Title     string    `xml:"title"`
	Links     []xmlLink `xml:"link"`
	Published string    `xml:"published"`
	Updated   string    `xml:"updated"`
}

func parseAtom(data []byte) ([]rawItem, error) {
	var root atomFeed
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("feed: parse atom: %w", err)
	}

	out := make([]rawItem, 0, len(root.Entries))
	for _, entry := range root.Entries {
		published := strings.TrimSpace(entry.Published)
		updated := strings.TrimSpace(entry.Updated)
		if updated == "" {
			updated = published
		}
		out = append(out, rawItem{
			title:     entry.Title,
			link:      atomLink(entry.Links),
			guid:      entry.ID,
			published: published,
			updated:   updated,
		})
	}
	return out, nil
}

func atomLink(links []xmlLink) string {
	// Prefer rel="alternate", then first href.
	for _, l := range links {
		if (l.Rel == "alternate" || l.Rel == "") && strings.TrimSpace(l.Href) != "" {
			return strings.TrimSpace(l.Href)
		}
	}
	for _, l := range links {
		if h := strings.TrimSpace(l.Href); h != "" {
			return h
		}
	}
	return ""
}
