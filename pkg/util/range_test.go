package util

import (
	"reflect"
	"testing"
)

func TestExpandRange(t *testing.T) {
	tests := []struct {
		spec    string
		want    []int
		wantErr bool
	}{
		{"1-5", []int{1, 2, 3, 4, 5}, false},
		{"1,3,5", []int{1, 3, 5}, false},
		{"1-3,5,7-9", []int{1, 2, 3, 5, 7, 8, 9}, false},
		{"5,1-3,2", []int{1, 2, 3, 5}, false},
		{"", nil, false},
		{"5-1", nil, true},
		{"abc", nil, true},
		{"1-x", nil, true},
	}

	for _, tt := range tests {
		got, err := ExpandRange(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("ExpandRange(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExpandRange(%q) = %v, want %v", tt.spec, got, tt.want)
		}
	}
}

func TestCompactRange(t *testing.T) {
	tests := []struct {
		values []int
		want   string
	}{
		{[]int{1, 2, 3, 5, 7, 8, 9}, "1-3,5,7-9"},
		{[]int{1}, "1"},
		{[]int{3, 1, 2, 2}, "1-3"},
		{nil, ""},
		{[]int{10, 12}, "10,12"},
	}

	for _, tt := range tests {
		if got := CompactRange(tt.values); got != tt.want {
			t.Errorf("CompactRange(%v) = %q, want %q", tt.values, got, tt.want)
		}
	}
}

func TestExpandCompactRoundTrip(t *testing.T) {
	spec := "1-4,7,10-12"
	nums, err := ExpandRange(spec)
	if err != nil {
		t.Fatalf("ExpandRange failed: %v", err)
	}
	if got := CompactRange(nums); got != spec {
		t.Errorf("round trip = %q, want %q", got, spec)
	}
}

func TestSplitCommaSeparated(t *testing.T) {
	got := SplitCommaSeparated(" a, b ,,c ")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitCommaSeparated = %v, want %v", got, want)
	}
	if SplitCommaSeparated("") != nil {
		t.Error("empty input should return nil")
	}
}
