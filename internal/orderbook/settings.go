package orderbook

import (
	"context"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// SettingsKey holds the floor settings toggled during service.
const SettingsKey = "restaurant_settings"

// Settings are the floor switches.
type Settings struct {
	LiveMusicActive bool `json:"live_music_active"`
}

// Settings returns the current floor settings.
func (b *Book) Settings() Settings {
	return store.Load(b.docs, SettingsKey, Settings{})
}

// SetLiveMusic switches live music on or off. Switching it on charges the
// cover to the tables already open. Elevated actors only.
func (b *Book) SetLiveMusic(ctx context.Context, on bool, actor auth.Actor) (Settings, []string, error) {
	if _, err := b.authorize(ctx, actor, "", "live_music", SettingsKey); err != nil {
		return Settings{}, nil, err
	}
	var s Settings
	err := b.docs.WithLock(ctx, SettingsKey, func() error {
		s = b.Settings()
		s.LiveMusicActive = on
		return b.docs.Write(SettingsKey, s)
	})
	if err != nil {
		return Settings{}, nil, err
	}
	b.audit.Record(ctx, audit.Entry{
		DepartmentID: enum.DeptRestaurant,
		ActorID:      actor.Username,
		Action:       "Música ao Vivo",
		Entity:       SettingsKey,
		Details:      map[string]any{"active": on},
	})
	if !on {
		return s, nil, nil
	}
	charged, err := b.ActivateCover(ctx, actor)
	if err != nil {
		return s, nil, err
	}
	return s, charged, nil
}
