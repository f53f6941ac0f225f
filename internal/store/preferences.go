package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AlienChat/internal/models"
)

// ThemeKey returns the KV key holding a user's theme preference.
func ThemeKey(uid string) string {
	if uid == "" {
		return "chat-theme"
	}
	return "user_" + uid + "_chat-theme"
}

// LoadTheme returns the stored theme, or the default when none or an unknown value is stored.
func LoadTheme(ctx context.Context, kv KV, uid string) (models.Theme, error) {
	raw, ok, err := kv.Get(ctx, ThemeKey(uid))
	if err != nil {
		return models.DefaultTheme, fmt.Errorf("failed to load theme: %w", err)
	}
	theme := models.Theme(raw)
	if !ok || !models.IsValidTheme(theme) {
		return models.DefaultTheme, nil
	}
	return theme, nil
}

// SaveTheme stores a theme preference.
func SaveTheme(ctx context.Context, kv KV, uid string, theme models.Theme) error {
	if !models.IsValidTheme(theme) {
		return models.ErrInvalidTheme
	}
	if err := kv.Set(ctx, ThemeKey(uid), string(theme)); err != nil {
		return fmt.Errorf("failed to save theme: %w", err)
	}
	slog.Debug("store.SaveTheme: theme saved", "uid", uid, "theme", theme)
	return nil
}
