package pricing

import (
	"encoding/json"
	"testing"
)

func testPriceList(t *testing.T) *PriceList {
	t.Helper()
	pl := New()
	pl.AddPriceInfo(PriceInfo{Pattern: "/test1/abc/x/", Amount: 1})
	pl.AddPriceInfo(PriceInfo{Pattern: "/test1/*/x/", Amount: 1})
	pl.AddPriceInfo(PriceInfo{Pattern: "/test1/*/x/fx", Amount: 1})
	pl.AddPriceInfo(PriceInfo{Pattern: "/test1/*/x/special/", Amount: 1})
	pl.AddPriceInfo(PriceInfo{Pattern: "/images", Amount: 1})
	return pl
}

func TestAddPriceInfo_NormalizesPatterns(t *testing.T) {
	pl := testPriceList(t)

	want := []string{"/images", "/test1/abc/x", "/test1/*/x", "/test1/*/x/fx", "/test1/*/x/special"}
	for _, pattern := range want {
		if pi := pl.PriceInfoFor(pattern); pi == nil {
			t.Errorf("PriceInfoFor(%q): no rule", pattern)
		} else if pi.Pattern != pattern {
			t.Errorf("PriceInfoFor(%q): stored pattern %q", pattern, pi.Pattern)
		}
	}

	if got := len(pl.PriceInfos()); got != len(want) {
		t.Errorf("PriceInfos: got %d rules, want %d", got, len(want))
	}
}

func TestMatchURL(t *testing.T) {
	pl := testPriceList(t)

	cases := []struct {
		name    string
		urlPath string
		match   string
		pattern string
	}{
		{"no match", "/tset/abc/", "", ""},
		{"specific over wildcard", "/test1/abc/x/", "/test1/abc/x/", "/test1/abc/x"},
		{"wildcard", "/test1/xyz/x/", "/test1/xyz/x/", "/test1/*/x"},
		{"most segments", "/test1/xyz/x/fx", "/test1/xyz/x/fx", "/test1/*/x/fx"},
		{"prefix", "/test1/xyz/x/fx2", "/test1/xyz/x/", "/test1/*/x"},
		{"directory", "/images/", "/images/", "/images"},
		{"file under prefix", "/images/volcano.jpeg", "/images/", "/images"},
		{"exact", "/images", "/images", "/images"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := pl.MatchURL(tc.urlPath)
			if tc.match == "" {
				if result != nil {
					t.Fatalf("MatchURL(%q): got %+v, want none", tc.urlPath, result)
				}
				return
			}
			if result == nil {
				t.Fatalf("MatchURL(%q): got none, want %q", tc.urlPath, tc.match)
			}
			if result.Match != tc.match {
				t.Errorf("MatchURL(%q): match %q, want %q", tc.urlPath, result.Match, tc.match)
			}
			if result.PriceInfo.Pattern != tc.pattern {
				t.Errorf("MatchURL(%q): pattern %q, want %q", tc.urlPath, result.PriceInfo.Pattern, tc.pattern)
			}
		})
	}
}

func TestMatchURL_DeepestPricedPrefix(t *testing.T) {
	pl := New()
	pl.AddPriceInfo(PriceInfo{Pattern: "/a", Amount: 10})
	pl.AddPriceInfo(PriceInfo{Pattern: "/a/b/c", Amount: 20})

	// /a/b exists in the trie but carries no rule; the walk dead-ends under
	// it and the deepest priced node on the path wins.
	result := pl.MatchURL("/a/b/x")
	if result == nil {
		t.Fatal("expected match on /a")
	}
	if result.Match != "/a/" {
		t.Errorf("match %q, want %q", result.Match, "/a/")
	}
	if result.PriceInfo.Amount != 10 {
		t.Errorf("amount %d, want 10", result.PriceInfo.Amount)
	}
}

func TestPriceList_JSONRoundTrip(t *testing.T) {
	pl := testPriceList(t)

	data, err := json.Marshal(pl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	pl2, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	paths := []string{
		"/tset/abc/", "/test1/abc/x/", "/test1/xyz/x/", "/test1/xyz/x/fx",
		"/test1/xyz/x/fx2", "/images/", "/images/volcano.jpeg", "/images",
	}
	for _, p := range paths {
		before := pl.MatchURL(p)
		after := pl2.MatchURL(p)
		if (before == nil) != (after == nil) {
			t.Fatalf("round-trip changed matchability of %q", p)
		}
		if before == nil {
			continue
		}
		if before.Match != after.Match || before.PriceInfo.Pattern != after.PriceInfo.Pattern {
			t.Errorf("round-trip changed match of %q: %+v vs %+v", p, before, after)
		}
	}
}

func TestFromJSON_CleansRules(t *testing.T) {
	data := []byte(`{"pricelist":[
		{"pattern":"/long","amount":99999999999},
		{"pattern":"/neg","amount":-5},
		{"pattern":"/desc","amount":1,"description":"` + string(make([]byte, 0)) + `aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
	]}`)

	pl, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if pi := pl.PriceInfoFor("/long"); pi == nil || pi.Amount != 0 {
		t.Errorf("over-length amount not clamped: %+v", pi)
	}
	if pi := pl.PriceInfoFor("/neg"); pi == nil || pi.Amount != 0 {
		t.Errorf("negative amount not clamped: %+v", pi)
	}
	if pi := pl.PriceInfoFor("/desc"); pi == nil || len(pi.Description) != 64 {
		t.Errorf("description not clamped to 64: %+v", pi)
	}

	if _, err := FromJSON([]byte(`{"pricelist":[{"pattern":"","amount":1}]}`)); err == nil {
		t.Error("empty pattern accepted")
	}
}
