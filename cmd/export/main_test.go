package main

import (
	"reflect"
	"testing"

	"github.com/raaihank/photo-sentinel/internal/store"
)

func TestParseStatuses(t *testing.T) {
	tests := []struct {
		raw     string
		want    []store.Status
		wantErr bool
	}{
		{"all", nil, false},
		{"pii_found", []store.Status{store.StatusPiiFound}, false},
		{" pii_found , failed ", []store.Status{store.StatusPiiFound, store.StatusFailed}, false},
		{"pii_found,,", []store.Status{store.StatusPiiFound}, false},
		{"hidden", nil, true},
		{",", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseStatuses(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseStatuses(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseStatuses(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
