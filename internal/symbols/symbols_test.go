package symbols

import (
	"testing"

	evdev "github.com/holoplot/go-evdev"
)

func TestResolveCaseAndWhitespace(t *testing.T) {
	r := Default()
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"right ctrl", "KEY_RIGHTCTRL", 97, false},
		{"lowercase", "key_a", 30, false},
		{"padded", "  KEY_F12  ", 88, false},
		{"disable sentinel", "DISABLE_CODE", int(DisableCode), false},
		{"unknown", "KEY_NOPE", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := r.Resolve(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if int(code) != tt.want {
				t.Errorf("Resolve(%q) = %d, want %d", tt.input, code, tt.want)
			}
		})
	}
}

func TestIsDisable(t *testing.T) {
	if !IsDisable(DisableCode) {
		t.Error("expected DisableCode to be disable")
	}
	if IsDisable(30) {
		t.Error("expected KEY_A code to not be disable")
	}
}

func TestOverridesTakePrecedence(t *testing.T) {
	r := NewTableResolver(map[string]evdev.EvCode{"KEY_A": 999})
	code, err := r.Resolve("KEY_A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 999 {
		t.Errorf("expected override to win, got %d", code)
	}
}
