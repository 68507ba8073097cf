package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"CommunityArchive/internal/extract"
)

const (
	RuleSectionTitle  = "section-title"
	RuleListContainer = "list-container"
	RuleCommunityLink = "community-link"
)

var memberCountExpr = regexp.MustCompile(`(?i)(\d[\d.,]*)\s*(?:members|member|membros|membro|miembros|miembro)\b`)

// paginationLabels are link texts inside a community list that are navigation, not names.
var paginationLabels = map[string]struct{}{
	"next >":      {},
	"< previous":  {},
	"first":       {},
	"last":        {},
	"next":        {},
	"previous":    {},
	"próxima >":   {},
	"< anterior":  {},
	"primeira":    {},
	"última":      {},
	"siguiente >": {},
}

// itemScopes are the elements that usually wrap a single community entry.
const itemScopes = "li, tr, dd, p, div, span"

// NewOrkutRegistry returns the rules for the archived community directory, in
// the order they are tried.
func NewOrkutRegistry() *extract.Registry {
	reg := extract.NewRegistry()
	reg.Register(SectionTitleRule{})
	reg.Register(ListContainerRule{})
	reg.Register(CommunityLinkRule{})
	return reg
}

// SectionTitleRule matches the directory layout where every community is an
// a.typoSectionTitleFont link.
type SectionTitleRule struct{}

func (SectionTitleRule) Name() string { return RuleSectionTitle }

func (SectionTitleRule) Extract(doc *goquery.Document) []extract.Item {
	var items []extract.Item
	doc.Find("a.typoSectionTitleFont").Each(func(_ int, link *goquery.Selection) {
		if item, ok := itemFromLink(link, "a.typoSectionTitleFont"); ok {
			items = append(items, item)
		}
	})
	return items
}

// ListContainerRule reads links inside div.listCommunityContainer.
type ListContainerRule struct{}

func (ListContainerRule) Name() string { return RuleListContainer }

func (ListContainerRule) Extract(doc *goquery.Document) []extract.Item {
	var items []extract.Item
	doc.Find("div.listCommunityContainer").First().Find("a").Each(func(_ int, link *goquery.Selection) {
		if link.HasClass("paginationSeparator") {
			return
		}
		if IsPaginationLabel(link.Text()) {
			return
		}
		if item, ok := itemFromLink(link, "a"); ok {
			items = append(items, item)
		}
	})
	return items
}

// CommunityLinkRule is the loose fallback for layouts the other rules miss.
type CommunityLinkRule struct{}

var communityLinkSelectors = []string{
	`a[href*="Community"]`,
	`a[href*="community"]`,
	`.community-name`,
	`.community-title`,
	`a[title*="community"]`,
	`a[title*="Community"]`,
}

func (CommunityLinkRule) Name() string { return RuleCommunityLink }

func (CommunityLinkRule) Extract(doc *goquery.Document) []extract.Item {
	var items []extract.Item
	for _, selector := range communityLinkSelectors {
		doc.Find(selector).Each(func(_ int, el *goquery.Selection) {
			if IsPaginationLabel(el.Text()) {
				return
			}
			if item, ok := itemFromLink(el, selector); ok {
				items = append(items, item)
			}
		})
	}
	return items
}

// IsPaginationLabel reports whether text is a pagination control label.
func IsPaginationLabel(text string) bool {
	_, ok := paginationLabels[strings.ToLower(strings.Join(strings.Fields(text), " "))]
	return ok
}

func itemFromLink(link *goquery.Selection, sibling string) (extract.Item, bool) {
	name := strings.TrimSpace(link.Text())
	if name == "" {
		return extract.Item{}, false
	}

	item := extract.Item{Name: name}
	scope := itemScope(link, sibling)
	var rest string
	if scope != nil {
		rest = strings.Replace(scope.Text(), name, "", 1)
	} else {
		rest = trailingText(link)
	}
	item.MemberCount = parseMemberCount(rest)
	item.Category = category(link, scope)
	return item, true
}

// itemScope returns the closest wrapper that adds text to this entry alone,
// or nil when entries share one wrapper.
func itemScope(link *goquery.Selection, sibling string) *goquery.Selection {
	name := strings.TrimSpace(link.Text())
	var scope *goquery.Selection
	link.ParentsFiltered(itemScopes).EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if p.HasClass("listCommunityContainer") || p.Find(sibling).Length() > 1 {
			return false
		}
		if strings.TrimSpace(p.Text()) != name {
			scope = p
			return false
		}
		return true
	})
	return scope
}

// trailingText collects the text after link up to the next anchor.
func trailingText(link *goquery.Selection) string {
	node := link.Get(0)
	if node == nil {
		return ""
	}
	var b strings.Builder
	for n := node.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode && n.Data == "a" {
			break
		}
		b.WriteString(nodeText(n))
		b.WriteByte(' ')
	}
	return b.String()
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return b.String()
}

func parseMemberCount(text string) *int {
	m := memberCountExpr.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

func category(link, scope *goquery.Selection) string {
	if v, ok := link.Attr("data-category"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if scope == nil {
		return ""
	}
	if v, ok := scope.Attr("data-category"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(scope.Find(".communityCategory, .category").First().Text())
}
