package collect

import "testing"

func TestParseFeed(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<rss version="2.0"><channel>
  <item>
    <title>Chip makers rally &lt;b&gt;again&lt;/b&gt;</title>
    <link>https://example.com/a</link>
    <description>&lt;p&gt;markets&lt;/p&gt;</description>
    <pubDate>Sat, 29 Aug 2026 09:00:00 GMT</pubDate>
    <source url="https://example.com">Example Wire</source>
  </item>
  <item>
    <title></title>
    <link>https://example.com/skipped</link>
  </item>
  <item>
    <title>Relative link survives</title>
    <link>/relative</link>
  </item>
</channel></rss>`)

	items, err := ParseFeed(body, "https://news.example.com/rss?q=chips")
	if err != nil {
		t.Fatalf("ParseFeed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items (empty title dropped), got %d", len(items))
	}
	if items[0].Title != "Chip makers rally again" {
		t.Errorf("title markup not stripped: %q", items[0].Title)
	}
	if items[0].Source != "Example Wire" {
		t.Errorf("source = %q", items[0].Source)
	}
	if items[1].URL != "https://news.example.com/relative" {
		t.Errorf("relative link not resolved: %q", items[1].URL)
	}
}

func TestStripHTML(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"tags stripped", "<p>hello <b>world</b></p>", "hello world"},
		{"whitespace trimmed", "  padded  ", "padded"},
		{"empty", "", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripHTML(tc.in); got != tc.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestLangParams(t *testing.T) {
	if got := langParams("반도체"); got != "&hl=ko&gl=KR&ceid=KR:ko" {
		t.Errorf("korean topic got %q", got)
	}
	if got := langParams("semiconductors"); got != "&hl=en-US&gl=US&ceid=US:en" {
		t.Errorf("english topic got %q", got)
	}
}

func TestPublisherTrust(t *testing.T) {
	testCases := []struct {
		source string
		want   int
	}{
		{"Reuters", 90},
		{"  bloomberg ", 85},
		{"Some Local Blog", 70},
		{"", 50},
	}
	for _, tc := range testCases {
		if got := PublisherTrust(tc.source); got != tc.want {
			t.Errorf("PublisherTrust(%q) = %d, want %d", tc.source, got, tc.want)
		}
	}
}
