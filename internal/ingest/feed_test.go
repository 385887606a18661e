package ingest

import (
	"strings"
	"testing"
)

func TestDecodeFeedArray(t *testing.T) {
	feed := `[
  {"retailer": "shop", "url": "https://shop.example/p/a", "title": "A", "price": 19.99},
  {"retailer": "shop", "source_url": "https://shop.example/p/b", "title": "B", "price": "24,99 €"},
  {"retailer": "shop", "url": "https://shop.example/p/c", "title": "C"}
]`
	entries, err := DecodeFeed(strings.NewReader(feed), 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Price == nil || *entries[0].Price != 19.99 {
		t.Errorf("numeric price = %v, want 19.99", entries[0].Price)
	}
	if entries[1].SourceURL != "https://shop.example/p/b" {
		t.Errorf("source_url alias not honoured: %q", entries[1].SourceURL)
	}
	if entries[1].Price != nil || entries[1].PriceText != "24,99 €" {
		t.Errorf("textual price should pass through as PriceText, got %v / %q", entries[1].Price, entries[1].PriceText)
	}
	if entries[2].Price != nil || entries[2].PriceText != "" {
		t.Errorf("missing price should stay absent")
	}
}

func TestDecodeFeedDocumentDefaults(t *testing.T) {
	feed := `{
  "retailer": "shop",
  "category": "widgets",
  "entries": [
    {"url": "https://shop.example/p/a", "title": "A"},
    {"retailer": "other", "url": "https://shop.example/p/b", "title": "B"}
  ]
}`
	entries, err := DecodeFeed(strings.NewReader(feed), 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entries[0].Retailer != "shop" || entries[0].Category != "widgets" {
		t.Errorf("document defaults not applied: %+v", entries[0])
	}
	if entries[1].Retailer != "other" {
		t.Errorf("entry-level retailer should win, got %q", entries[1].Retailer)
	}
}

func TestDecodeFeedTruncates(t *testing.T) {
	feed := `[{"url": "https://a"}, {"url": "https://b"}, {"url": "https://c"}]`
	entries, err := DecodeFeed(strings.NewReader(feed), 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
}

func TestDecodeFeedInvalidJSON(t *testing.T) {
	if _, err := DecodeFeed(strings.NewReader(`{"entries": [`), 0); err == nil {
		t.Fatal("want decode error")
	}
}
