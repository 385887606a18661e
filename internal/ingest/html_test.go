package ingest

import (
	"strings"
	"testing"

	"catalogwatch/internal/config"
)

const catalogPage = `
<html><body>
  <div class="grid">
    <article class="card" data-sku="SKU-1001">
      <a href="/p/widget-blue?utm_source=home">Blue Widget</a>
      <h3 class="title"> Blue Widget XL </h3>
      <span class="price">$49.99</span>
      <img src="https://img.example/blue-1.jpg">
      <img data-src="/img/blue-2.jpg">
    </article>
    <article class="card">
      <a href="https://other.example/p/red-widget">Red Widget</a>
      <h3 class="title">Red Widget</h3>
      <span class="price">39,99 €</span>
    </article>
    <article class="card">
      <h3 class="title">No Link Card</h3>
    </article>
  </div>
</body></html>`

func pageSelectors() config.HTMLSelectors {
	return config.HTMLSelectors{
		Entry:    "article.card",
		Link:     "a",
		Title:    "h3.title",
		Price:    "span.price",
		Image:    "img",
		CodeAttr: "data-sku",
	}
}

func TestExtractHTML(t *testing.T) {
	entries, err := ExtractHTML(strings.NewReader(catalogPage), "https://shop.example/c/widgets", "shop", "widgets", pageSelectors(), 0)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (card without link skipped)", len(entries))
	}

	first := entries[0]
	if first.SourceURL != "https://shop.example/p/widget-blue?utm_source=home" {
		t.Errorf("relative link not resolved: %q", first.SourceURL)
	}
	if first.Title != "Blue Widget XL" {
		t.Errorf("title = %q, want trimmed text", first.Title)
	}
	if first.PriceText != "$49.99" {
		t.Errorf("price text = %q", first.PriceText)
	}
	if first.ProductCode != "SKU-1001" {
		t.Errorf("product code = %q, want from data-sku", first.ProductCode)
	}
	if len(first.ImageURLs) != 2 {
		t.Fatalf("images = %v, want src and data-src resolved", first.ImageURLs)
	}
	if first.ImageURLs[1] != "https://shop.example/img/blue-2.jpg" {
		t.Errorf("data-src image not resolved: %q", first.ImageURLs[1])
	}
	if first.Retailer != "shop" || first.Category != "widgets" {
		t.Errorf("retailer/category not stamped: %+v", first)
	}

	if entries[1].SourceURL != "https://other.example/p/red-widget" {
		t.Errorf("absolute link altered: %q", entries[1].SourceURL)
	}
}

func TestExtractHTMLMaxEntries(t *testing.T) {
	entries, err := ExtractHTML(strings.NewReader(catalogPage), "https://shop.example/", "shop", "", pageSelectors(), 1)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestExtractHTMLRequiresEntrySelector(t *testing.T) {
	if _, err := ExtractHTML(strings.NewReader(catalogPage), "https://shop.example/", "shop", "", config.HTMLSelectors{}, 0); err == nil {
		t.Fatal("want error without entry selector")
	}
}
