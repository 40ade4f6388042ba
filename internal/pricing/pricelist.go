package pricing

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	maxAmountDigits   = 10
	maxDescriptionLen = 64
)

// SplitInfo describes how a rule's revenue is shared with another party.
type SplitInfo struct {
	To      string   `json:"to"`
	Percent *float64 `json:"percent,omitempty"`
	Amount  *int64   `json:"amount,omitempty"`
}

// PriceInfo is one pricing rule. Pattern is a slash-delimited path where a
// "*" segment matches exactly one path segment.
type PriceInfo struct {
	Pattern     string      `json:"pattern"`
	Amount      int64       `json:"amount"`
	Description string      `json:"description,omitempty"`
	Split       []SplitInfo `json:"split,omitempty"`
}

// MatchResult is the outcome of matching a request path against the list.
// Match is the reconstructed path that was actually matched, used as the key
// for invoices and access grants.
type MatchResult struct {
	Match     string
	PriceInfo PriceInfo
}

type node struct {
	priceInfo *PriceInfo
	children  map[string]*node
}

// PriceList is a trie of pricing rules keyed by path segment. Exact segments
// take precedence over "*" at the same depth.
type PriceList struct {
	root map[string]*node
}

func New() *PriceList {
	return &PriceList{root: make(map[string]*node)}
}

func splitSegments(p string) []string {
	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// AddPriceInfo inserts a rule, normalizing its pattern to the canonical
// slash-delimited form with no trailing slash. Adding a second rule with the
// same normalized pattern replaces the first.
func (pl *PriceList) AddPriceInfo(priceInfo PriceInfo) {
	segments := splitSegments(priceInfo.Pattern)

	children := pl.root
	var current *node
	var pattern strings.Builder

	for _, segment := range segments {
		pattern.WriteString("/")
		pattern.WriteString(segment)

		child, ok := children[segment]
		if !ok {
			child = &node{children: make(map[string]*node)}
			children[segment] = child
		}
		current = child
		children = child.children
	}

	if current == nil {
		return
	}

	priceInfo.Pattern = pattern.String()
	current.priceInfo = &priceInfo
}

// MatchURL walks the trie segment by segment, preferring an exact child over
// a "*" child at each level, and returns the deepest rule seen on the walk.
// The returned match string is built from the request's own segments and gets
// a trailing slash unless it equals the request path exactly.
func (pl *PriceList) MatchURL(urlPath string) *MatchResult {
	segments := splitSegments(urlPath)

	children := pl.root
	var matched []string
	var best *PriceInfo
	bestDepth := 0

	for _, segment := range segments {
		child, ok := children[segment]
		if !ok {
			child, ok = children["*"]
		}
		if !ok {
			break
		}

		matched = append(matched, segment)
		if child.priceInfo != nil {
			best = child.priceInfo
			bestDepth = len(matched)
		}
		children = child.children
	}

	if best == nil {
		return nil
	}

	match := "/" + strings.Join(matched[:bestDepth], "/")
	if match != urlPath {
		match += "/"
	}

	return &MatchResult{Match: match, PriceInfo: *best}
}

// PriceInfoFor looks up the rule stored at an exact pattern, without wildcard
// resolution.
func (pl *PriceList) PriceInfoFor(pattern string) *PriceInfo {
	children := pl.root
	var current *node

	for _, segment := range splitSegments(pattern) {
		child, ok := children[segment]
		if !ok {
			return nil
		}
		current = child
		children = child.children
	}

	if current == nil {
		return nil
	}
	return current.priceInfo
}

// PriceInfos returns every rule in the trie.
func (pl *PriceList) PriceInfos() []PriceInfo {
	var out []PriceInfo
	var walk func(children map[string]*node)
	walk = func(children map[string]*node) {
		for _, child := range children {
			if child.priceInfo != nil {
				out = append(out, *child.priceInfo)
			}
			walk(child.children)
		}
	}
	walk(pl.root)
	return out
}

type priceListJSON struct {
	PriceList []PriceInfo `json:"pricelist"`
}

func (pl *PriceList) MarshalJSON() ([]byte, error) {
	obj := priceListJSON{PriceList: pl.PriceInfos()}
	if obj.PriceList == nil {
		obj.PriceList = []PriceInfo{}
	}
	return json.Marshal(obj)
}

// FromJSON parses a {"pricelist":[...]} document into a trie. Reserializing
// the result produces an equivalent trie: same matching behavior for every
// addable pattern.
func FromJSON(data []byte) (*PriceList, error) {
	var obj priceListJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse price list: %v", err)
	}

	pl := New()
	for _, item := range obj.PriceList {
		cleaned, err := cleanPriceInfo(item)
		if err != nil {
			return nil, err
		}
		pl.AddPriceInfo(cleaned)
	}
	return pl, nil
}

func cleanPriceInfo(item PriceInfo) (PriceInfo, error) {
	if strings.Trim(item.Pattern, "/") == "" {
		return PriceInfo{}, fmt.Errorf("invalid pattern %q", item.Pattern)
	}

	if item.Amount < 0 {
		item.Amount = 0
	}
	if digits := len(fmt.Sprintf("%d", item.Amount)); digits > maxAmountDigits {
		item.Amount = 0
	}
	if len(item.Description) > maxDescriptionLen {
		item.Description = item.Description[:maxDescriptionLen]
	}
	return item, nil
}
