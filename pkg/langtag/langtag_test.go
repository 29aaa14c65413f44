package langtag

import "testing"

func TestFullAndShort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in        string
		wantFull  string
		wantShort string
	}{
		{"en", "en-US", "en"},
		{"he", "he-IL", "he"},
		{"ru", "ru-RU", "ru"},
		{"en-US", "en-US", "en"},
		{"EN", "en-US", "en"},
		{"zz", "zz", "zz"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := Full(tt.in); got != tt.wantFull {
				t.Errorf("Full(%q) = %q, want %q", tt.in, got, tt.wantFull)
			}
			if got := Short(tt.in); got != tt.wantShort {
				t.Errorf("Short(%q) = %q, want %q", tt.in, got, tt.wantShort)
			}
		})
	}
}

func TestSame(t *testing.T) {
	t.Parallel()

	if !Same("en", "en-US") {
		t.Error("en and en-US should be the same language")
	}
	if Same("en", "he-IL") {
		t.Error("en and he-IL should differ")
	}
}

func TestSupported(t *testing.T) {
	t.Parallel()

	if !Supported("he-IL") {
		t.Error("he-IL should be supported")
	}
	if Supported("xx") {
		t.Error("xx should not be supported")
	}
}
