package models

import "testing"

func TestParseItemKind(t *testing.T) {
	cases := []struct {
		in   string
		want ItemKind
		ok   bool
	}{
		{"model", ItemKindModel, true},
		{"dataset", ItemKindDataset, true},
		{"0", ItemKindModel, true},
		{"1", ItemKindDataset, true},
		{"2", "", false},
		{"weights", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseItemKind(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseItemKind(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestItemKindTags(t *testing.T) {
	if ItemKindModel.Tag() != 0 || ItemKindDataset.Tag() != 1 {
		t.Fatal("wire tags drifted")
	}
	if !ItemKindModel.Valid() || ItemKind("weights").Valid() {
		t.Fatal("validity check broken")
	}
}

func TestNormalizeAddress(t *testing.T) {
	addr, ok := NormalizeAddress("0x1111111111111111111111111111111111111111")
	if !ok {
		t.Fatal("well-formed address rejected")
	}
	// Same address, different case, same canonical form.
	upper, ok := NormalizeAddress("0X1111111111111111111111111111111111111111")
	if !ok || upper != addr {
		t.Fatalf("case variants diverge: %q vs %q", addr, upper)
	}

	for _, bad := range []string{"", "0x123", "not-an-address", "1111111111111111111111111111111111111111x"} {
		if _, ok := NormalizeAddress(bad); ok {
			t.Errorf("NormalizeAddress(%q) accepted", bad)
		}
	}
}
