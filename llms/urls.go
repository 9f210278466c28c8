package llms

import (
	"context"
	"strings"
)

// Settings keys for backend URL resolution.
const (
	SettingChatURL          = "forge_chat_url"
	SettingChatFallbackURL  = "forge_chat_fallback_url"
	SettingEmbedURL         = "forge_embed_url"
	SettingEmbedFallbackURL = "forge_embed_fallback_url"
)

// SettingsReader fetches setting values by key. Implemented by the store;
// reads go to the database on every call so admin mutations are visible
// without restart.
type SettingsReader interface {
	SettingValues(ctx context.Context, keys ...string) (map[string]string, error)
}

// ResolveBackendURL returns the first of (primary setting, fallback setting,
// default) that is non-empty and not a relative proxy path. UI deployments
// sometimes store paths like "/api/chat" that only make sense behind their
// own proxy; those are skipped.
func ResolveBackendURL(ctx context.Context, settings SettingsReader, primaryKey, fallbackKey, defaultURL string) string {
	values, err := settings.SettingValues(ctx, primaryKey, fallbackKey)
	if err != nil {
		return defaultURL
	}
	if primary := values[primaryKey]; primary != "" && !strings.HasPrefix(primary, "/") {
		return primary
	}
	if fallback := values[fallbackKey]; fallback != "" && !strings.HasPrefix(fallback, "/") {
		return fallback
	}
	return defaultURL
}
