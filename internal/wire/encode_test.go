package wire

import (
	"errors"
	"testing"
)

func TestBuildConfig(t *testing.T) {
	got, err := BuildConfig(3, 2, []int{2, 1})
	if err != nil {
		t.Fatalf("BuildConfig: %v", err)
	}
	if string(got) != "CONFIG,3,2,2,1\r\n" {
		t.Fatalf("BuildConfig = %q", got)
	}
}

func TestBuildConfigDefaultFleet(t *testing.T) {
	prios := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	got, err := BuildConfig(3, 10, prios)
	if err != nil {
		t.Fatalf("BuildConfig: %v", err)
	}
	if string(got) != "CONFIG,3,10,1,2,3,4,5,6,7,8,9,10\r\n" {
		t.Fatalf("BuildConfig = %q", got)
	}
}

func TestBuildConfigRejectsInconsistentInput(t *testing.T) {
	cases := []struct {
		name       string
		runways    int
		planes     int
		priorities []int
		field      string
	}{
		{"no runways", 0, 2, []int{1, 2}, "runways"},
		{"no planes", 3, 0, nil, "planes"},
		{"short", 3, 3, []int{1, 2}, "priorities"},
		{"long", 3, 1, []int{1, 2}, "priorities"},
		{"duplicate", 3, 3, []int{1, 2, 2}, "priorities"},
		{"zero", 3, 2, []int{0, 1}, "priorities"},
		{"negative", 3, 2, []int{-1, 1}, "priorities"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := BuildConfig(tc.runways, tc.planes, tc.priorities)
			if out != nil {
				t.Fatalf("BuildConfig emitted %q for invalid input", out)
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error = %v, want *ConfigurationError", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("field = %q, want %q", cfgErr.Field, tc.field)
			}
		})
	}
}
