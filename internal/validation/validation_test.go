package validation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateFileName(t *testing.T) {
	testCases := []struct {
		name        string
		filename    string
		expectValid bool
	}{
		{"simple", "file.txt", true},
		{"with_dash", "my-file.txt", true},
		{"with_dots", "file.v1.2.3.txt", true},
		{"hidden_file", ".hidden", true},
		{"spaces", "my file.txt", true},
		{"unicode", "données_été.csv", true},
		{"parentheses", "run (1).dat", true},

		{"empty", "", false},
		{"whitespace", "   ", false},
		{"slash", "a/b.txt", false},
		{"backslash", `a\b.txt`, false},
		{"colon", "c:data.txt", false},
		{"star", "*.txt", false},
		{"question", "what?.txt", false},
		{"quote", `say"hi".txt`, false},
		{"angle", "<tag>.xml", false},
		{"pipe", "a|b", false},
		{"semicolon", "a;b", false},
		{"hash", "issue#1.txt", false},
		{"tab", "a\tb", false},
		{"null", "a\x00b", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateFileName(tc.filename)
			if tc.expectValid && err != nil {
				t.Errorf("ValidateFileName(%q) unexpected error: %v", tc.filename, err)
			}
			if !tc.expectValid && err == nil {
				t.Errorf("ValidateFileName(%q) expected error", tc.filename)
			}
		})
	}
}

func TestValidateDirectoryLabel(t *testing.T) {
	testCases := []struct {
		name        string
		label       string
		expectValid bool
	}{
		{"root", "", true},
		{"simple", "raw", true},
		{"nested", "raw/run-1/out_2", true},
		{"windows", `raw\run.1`, true},
		{"space", "raw data", true},
		{"dots_in_name", "v1..2", true},

		{"parent", "raw/../etc", false},
		{"parent_windows", `..\up`, false},
		{"colon", "a:b", false},
		{"unicode", "données", false},
		{"hash", "a#b", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDirectoryLabel(tc.label)
			if tc.expectValid && err != nil {
				t.Errorf("ValidateDirectoryLabel(%q) unexpected error: %v", tc.label, err)
			}
			if !tc.expectValid && err == nil {
				t.Errorf("ValidateDirectoryLabel(%q) expected error", tc.label)
			}
		})
	}
}

func TestSanitizeField(t *testing.T) {
	tests := map[string]string{
		"":                       "",
		"  plain  ":              "plain",
		"zero\u200Bwidth":        "zerowidth",
		"\uFEFFwith BOM":         "with BOM",
		"soft\u00ADhyphen\u2060": "softhyphen",
	}
	for in, want := range tests {
		if got := SanitizeField(in); got != want {
			t.Errorf("SanitizeField(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeCategories(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, nil},
		{"dedupe", []string{"Data", " Data ", "Code"}, []string{"Data", "Code"}},
		{"comma separated", []string{"Data,Code", "Documentation, Data"}, []string{"Data", "Code", "Documentation"}},
		{"empties", []string{"", " , ", "\u200B"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, NormalizeCategories(tt.in)); diff != "" {
				t.Errorf("NormalizeCategories() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeDirectoryLabel(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"/raw/":       "raw",
		`raw\run1\`:   "raw/run1",
		" a/b ":       "a/b",
		"//deep//x//": "deep//x",
	}
	for in, want := range tests {
		if got := NormalizeDirectoryLabel(in); got != want {
			t.Errorf("NormalizeDirectoryLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
