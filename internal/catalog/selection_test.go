package catalog

import (
	"errors"
	"reflect"
	"testing"

	"github.com/brensch/setfetch/internal/config"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		input   string
		numSets int
		want    []int
		wantErr bool
	}{
		{"", 3, []int{1, 2, 3}, false},
		{"   ", 2, []int{1, 2}, false},
		{"2", 3, []int{2}, false},
		{"3, 1", 3, []int{3, 1}, false},
		{"1,1,2", 3, []int{1, 2}, false},
		{"1,,2,", 3, []int{1, 2}, false},
		{"0", 3, nil, true},
		{"4", 3, nil, true},
		{"-1", 3, nil, true},
		{"a", 3, nil, true},
		{",", 3, nil, true},
	}

	for _, tt := range tests {
		got, err := ParseSelection(tt.input, tt.numSets)
		if tt.wantErr {
			var cfgErr *config.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("ParseSelection(%q): expected ConfigError, got %v", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSelection(%q): %v", tt.input, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseSelection(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestResolveUsesCatalogOrder(t *testing.T) {
	c, err := New([]Set{{Name: "A"}, {Name: "B"}, {Name: "C"}})
	if err != nil {
		t.Fatal(err)
	}

	names, err := c.Resolve([]int{3, 1})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"A", "C"}) {
		t.Errorf("expected [A C], got %v", names)
	}

	if _, err := c.Resolve([]int{4}); err == nil {
		t.Error("expected out-of-range error")
	}
}
