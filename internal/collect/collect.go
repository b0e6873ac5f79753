// Package collect gathers raw topical items from external feeds. The engine
// core depends only on the Source interface; feed specifics stay here.
package collect

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"sovereign/internal/domain"
)

// Source is the raw item collaborator. An empty result is legitimate and is
// handled upstream with a placeholder, never an error.
type Source interface {
	FetchItems(ctx context.Context, topic, day string) ([]domain.RawItem, error)
}

const fetchTimeout = 15 * time.Second

// RSSSource fetches topical items from RSS feeds. When a video template is
// configured the news and video feeds are fetched concurrently and merged,
// news first.
type RSSSource struct {
	Client        *http.Client
	Template      string
	VideoTemplate string
	MaxItems      int
}

func NewRSSSource(template, videoTemplate string, maxItems int) *RSSSource {
	return &RSSSource{
		Client:        &http.Client{Timeout: fetchTimeout},
		Template:      template,
		VideoTemplate: videoTemplate,
		MaxItems:      maxItems,
	}
}

func (s *RSSSource) FetchItems(ctx context.Context, topic, day string) ([]domain.RawItem, error) {
	var news, videos []domain.RawItem

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	g.Go(func() error {
		var err error
		news, err = s.fetchFeed(gctx, s.Template, topic)
		return err
	})
	if s.VideoTemplate != "" {
		g.Go(func() error {
			var err error
			videos, err = s.fetchFeed(gctx, s.VideoTemplate, topic)
			// Videos are supplementary; a failed video feed never fails the topic.
			if err != nil {
				videos = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := append(news, videos...)
	if s.MaxItems > 0 && len(items) > s.MaxItems {
		items = items[:s.MaxItems]
	}
	return items, nil
}

func (s *RSSSource) fetchFeed(ctx context.Context, template, topic string) ([]domain.RawItem, error) {
	feedURL := fmt.Sprintf(template, url.QueryEscape(topic)) + langParams(topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed for %q: %w", topic, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed for %q: status %d", topic, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return ParseFeed(body, feedURL)
}

type rssDoc struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Source      string `xml:"source"`
}

// ParseFeed decodes an RSS payload into raw items. Descriptions and titles
// can carry embedded HTML; both are reduced to plain text.
func ParseFeed(body []byte, baseURL string) ([]domain.RawItem, error) {
	var doc rssDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	items := make([]domain.RawItem, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		title := StripHTML(it.Title)
		if title == "" {
			continue
		}
		items = append(items, domain.RawItem{
			Title:     title,
			URL:       Absolute(baseURL, strings.TrimSpace(it.Link)),
			Source:    StripHTML(it.Source),
			Published: strings.TrimSpace(it.PubDate),
		})
	}
	return items, nil
}

// StripHTML reduces a fragment that may contain markup to its text content.
func StripHTML(fragment string) string {
	trimmed := strings.TrimSpace(fragment)
	if trimmed == "" || !strings.Contains(trimmed, "<") {
		return trimmed
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return trimmed
	}
	return strings.TrimSpace(doc.Text())
}

// Absolute resolves href against base when href is relative.
func Absolute(base, href string) string {
	u, err := url.Parse(href)
	if err != nil || href == "" {
		return href
	}
	if u.IsAbs() {
		return u.String()
	}
	if base == "" {
		return href
	}
	bu, err := url.Parse(base)
	if err != nil {
		return href
	}
	return bu.ResolveReference(u).String()
}

// langParams picks feed locale parameters from the topic script.
func langParams(topic string) string {
	if isKorean(topic) {
		return "&hl=ko&gl=KR&ceid=KR:ko"
	}
	return "&hl=en-US&gl=US&ceid=US:en"
}

func isKorean(s string) bool {
	for _, r := range s {
		if r >= 0x1100 {
			return true
		}
	}
	return false
}
