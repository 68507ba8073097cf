package extract

import (
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoRuleMatched is returned when none of the registered rules recognised the markup.
var ErrNoRuleMatched = errors.New("no extraction rule matched")

// Item is a single community candidate found in a page.
type Item struct {
	Name        string
	MemberCount *int
	Category    string
}

// Rule captures one structural pattern (a site era, a page layout).
type Rule interface {
	Name() string
	Extract(doc *goquery.Document) []Item
}

// Registry keeps rules in registration order; earlier rules take precedence.
type Registry struct {
	rules []Rule
	index map[string]int
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: map[string]int{}}
}

// Register appends a rule, or replaces a rule with the same name in place.
func (r *Registry) Register(rule Rule) {
	if r.index == nil {
		r.index = map[string]int{}
	}
	if i, ok := r.index[rule.Name()]; ok {
		r.rules[i] = rule
		return
	}
	r.index[rule.Name()] = len(r.rules)
	r.rules = append(r.rules, rule)
}

// Resolve returns a rule by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Rule, error) {
	if i, ok := r.index[name]; ok {
		return r.rules[i], nil
	}
	return nil, fmt.Errorf("extraction rule %s is not registered", name)
}

// Rules returns the rules in evaluation order.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Apply runs the rules in order and returns the items of the first one that
// found anything, together with its name.
func (r *Registry) Apply(doc *goquery.Document) (string, []Item, error) {
	for _, rule := range r.rules {
		items := rule.Extract(doc)
		if len(items) > 0 {
			return rule.Name(), items, nil
		}
	}
	return "", nil, ErrNoRuleMatched
}
