package models

import (
	"strings"
	"testing"
	"time"
)

func TestAutoTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short text kept", "hello there", "hello there"},
		{"trimmed", "   padded   ", "padded"},
		{"exactly thirty", strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{"truncated", strings.Repeat("b", 45), strings.Repeat("b", 30) + "..."},
		{"runes not bytes", strings.Repeat("é", 31), strings.Repeat("é", 30) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AutoTitle(tt.in); got != tt.want {
				t.Errorf("AutoTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateTitle(t *testing.T) {
	if _, err := ValidateTitle("   "); err != ErrEmptyTitle {
		t.Errorf("expected ErrEmptyTitle, got %v", err)
	}
	if _, err := ValidateTitle(strings.Repeat("x", MaxTitleLength+1)); err != ErrTitleTooLong {
		t.Errorf("expected ErrTitleTooLong, got %v", err)
	}
	got, err := ValidateTitle("  Campaign ideas ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Campaign ideas" {
		t.Errorf("expected trimmed title, got %q", got)
	}
}

func TestConversationActivityTime(t *testing.T) {
	created := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	c := Conversation{CreatedAt: created}
	if !c.ActivityTime().Equal(created) {
		t.Errorf("expected CreatedAt fallback, got %v", c.ActivityTime())
	}
	updated := created.Add(time.Hour)
	c.LastUpdated = updated
	if !c.ActivityTime().Equal(updated) {
		t.Errorf("expected LastUpdated, got %v", c.ActivityTime())
	}
}

func TestThemeToggle(t *testing.T) {
	if ThemeDark.Toggle() != ThemeLight || ThemeLight.Toggle() != ThemeDark {
		t.Error("Toggle should flip between dark and light")
	}
	if IsValidTheme("sepia") {
		t.Error("sepia should not be a valid theme")
	}
}

func TestErrorEnvelope(t *testing.T) {
	r := Error("boom")
	if r.Status != string(APIStatusError) || r.Message != "boom" || r.Result != nil {
		t.Errorf("unexpected envelope: %+v", r)
	}
}
