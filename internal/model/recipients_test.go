package model

import (
	"math/rand"
	"slices"
	"strings"
	"testing"
)

func TestParseRecipients(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "mixed separators with duplicate",
			raw:  "a@x.com, b@x.com;a@x.com  c@x.com",
			want: []string{"a@x.com", "b@x.com", "c@x.com"},
		},
		{
			name: "empty",
			raw:  "",
			want: []string{},
		},
		{
			name: "only separators",
			raw:  " ,;\t\n ;; ",
			want: []string{},
		},
		{
			name: "leading and trailing separators",
			raw:  ";bob@smail.com,\n",
			want: []string{"bob@smail.com"},
		},
		{
			name: "case is preserved",
			raw:  "Alice@Smail.com alice@smail.com",
			want: []string{"Alice@Smail.com", "alice@smail.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRecipients(tt.raw)
			if !slices.Equal(got, tt.want) {
				t.Errorf("ParseRecipients(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseRecipientsRandomSeparators(t *testing.T) {
	addresses := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"}
	separators := []string{",", ";", " ", "\t", "\n", ", ", " ; ", ",,"}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		var b strings.Builder
		want := map[string]bool{}
		n := rng.Intn(8)
		for j := 0; j < n; j++ {
			addr := addresses[rng.Intn(len(addresses))]
			want[addr] = true
			b.WriteString(separators[rng.Intn(len(separators))])
			b.WriteString(addr)
		}
		b.WriteString(separators[rng.Intn(len(separators))])

		got := ParseRecipients(b.String())
		if len(got) != len(want) {
			t.Fatalf("input %q: got %q, want set %v", b.String(), got, want)
		}
		for _, g := range got {
			if g == "" || !want[g] {
				t.Fatalf("input %q: unexpected entry %q", b.String(), g)
			}
		}
	}
}
