package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

type staticRule struct {
	name  string
	items []Item
}

func (s staticRule) Name() string                    { return s.name }
func (s staticRule) Extract(*goquery.Document) []Item { return s.items }

func emptyDoc(t *testing.T) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html></html>"))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	return doc
}

func TestApplyFirstMatchWins(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(staticRule{name: "empty"})
	reg.Register(staticRule{name: "first", items: []Item{{Name: "a"}}})
	reg.Register(staticRule{name: "second", items: []Item{{Name: "b"}}})

	name, items, err := reg.Apply(emptyDoc(t))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if name != "first" {
		t.Fatalf("expected rule first, got %s", name)
	}
	if len(items) != 1 || items[0].Name != "a" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestApplyNoMatch(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(staticRule{name: "empty"})

	_, _, err := reg.Apply(emptyDoc(t))
	if !errors.Is(err, ErrNoRuleMatched) {
		t.Fatalf("expected ErrNoRuleMatched, got %v", err)
	}
}

func TestRegisterReplacesInPlace(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(staticRule{name: "a"})
	reg.Register(staticRule{name: "b"})
	reg.Register(staticRule{name: "a", items: []Item{{Name: "replaced"}}})

	rules := reg.Rules()
	if len(rules) != 2 || rules[0].Name() != "a" || rules[1].Name() != "b" {
		t.Fatalf("unexpected order: %v", rules)
	}

	rule, err := reg.Resolve("a")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got := rule.Extract(nil); len(got) != 1 || got[0].Name != "replaced" {
		t.Fatalf("rule was not replaced: %+v", got)
	}

	if _, err := reg.Resolve("missing"); err == nil {
		t.Fatalf("expected error for unknown rule")
	}
}
