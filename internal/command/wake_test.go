package command

import "testing"

func TestDetectWake(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		rest string
		ok   bool
	}{
		{"exact match with remainder", "hey assistant turn on the lights", "turn on the lights", true},
		{"fuzzy wake word", "hey asistant what time is it", "what time is it", true},
		{"comma after wake phrase", "Hey assistant, turn on the lights", "turn on the lights", true},
		{"bare wake phrase", "hey assistant", "", true},
		{"fewer words than wake phrase", "hey", "", false},
		{"empty transcript", "", "", false},
		{"wrong first word", "hello assistant turn on the lights", "", false},
		{"wake phrase not leading", "please hey assistant do it", "", false},
	}

	m := testMatcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rest, ok := m.DetectWake(tt.text)
			if ok != tt.ok {
				t.Fatalf("DetectWake(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if rest != tt.rest {
				t.Errorf("DetectWake(%q) rest = %q, want %q", tt.text, rest, tt.rest)
			}
		})
	}
}

func TestDetectWake_NoPhraseConfigured(t *testing.T) {
	t.Parallel()

	m := NewMatcher(Config{})
	if _, ok := m.DetectWake("hey assistant do something"); ok {
		t.Error("expected no wake match when no phrase is configured")
	}
}
