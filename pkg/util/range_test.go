package util

import (
	"reflect"
	"testing"
)

func TestParseRangeSet(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []Interval
		wantErr bool
	}{
		{
			name: "single value",
			spec: "5",
			want: []Interval{{5, 5}},
		},
		{
			name: "simple range",
			spec: "1-4094",
			want: []Interval{{1, 4094}},
		},
		{
			name: "mixed",
			spec: "1-3,5,7-9",
			want: []Interval{{1, 3}, {5, 5}, {7, 9}},
		},
		{
			name: "with spaces",
			spec: "1 - 3, 5",
			want: []Interval{{1, 3}, {5, 5}},
		},
		{
			name: "overlaps merged",
			spec: "1-3,2-6,7",
			want: []Interval{{1, 7}},
		},
		{
			name: "unsorted input",
			spec: "200-300,1-10",
			want: []Interval{{1, 10}, {200, 300}},
		},
		{
			name: "negative bound",
			spec: "-5--1",
			want: []Interval{{-5, -1}},
		},
		{
			name: "empty string",
			spec: "",
			want: []Interval{},
		},
		{
			name:    "start > end",
			spec:    "5-1",
			wantErr: true,
		},
		{
			name:    "not a number",
			spec:    "abc",
			wantErr: true,
		},
		{
			name:    "bad end",
			spec:    "1-x",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRangeSet(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRangeSet(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got.Intervals(), tt.want) {
				t.Errorf("ParseRangeSet(%q) = %v, want %v", tt.spec, got.Intervals(), tt.want)
			}
		})
	}
}

func TestRangeSetContains(t *testing.T) {
	rs, err := ParseRangeSet("1-99,200,300-400")
	if err != nil {
		t.Fatalf("ParseRangeSet: %v", err)
	}

	tests := []struct {
		v    int
		want bool
	}{
		{0, false},
		{1, true},
		{99, true},
		{100, false},
		{200, true},
		{201, false},
		{350, true},
		{401, false},
		{-1, false},
	}
	for _, tt := range tests {
		if got := rs.Contains(tt.v); got != tt.want {
			t.Errorf("Contains(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestRangeSetString(t *testing.T) {
	rs, err := ParseRangeSet("7-9, 1,2,3, 5")
	if err != nil {
		t.Fatalf("ParseRangeSet: %v", err)
	}
	if got := rs.String(); got != "1-3,5,7-9" {
		t.Errorf("String() = %q, want %q", got, "1-3,5,7-9")
	}

	var empty RangeSet
	if !empty.IsEmpty() {
		t.Error("zero RangeSet should be empty")
	}
	if empty.Contains(1) {
		t.Error("empty RangeSet should contain nothing")
	}
}
