package syncer

import (
	"context"
	"encoding/json"

	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

// PublishDevicePreferences writes this device's preferences to the data sync
// store, replicating them to the peer.
func (s *Service) PublishDevicePreferences(ctx context.Context, prefs models.DevicePreferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return s.fail("", "publish device preferences", err)
	}
	if err := s.t.Data.Put(ctx, wire.KeyDevicePreferences, data); err != nil {
		return s.fail("", "publish device preferences", err)
	}
	return nil
}

// DevicePreferences reads the replicated device preferences, falling back to
// defaults when the key has never been written.
func (s *Service) DevicePreferences(ctx context.Context) (models.DevicePreferences, error) {
	data, ok, err := s.t.Data.Get(ctx, wire.KeyDevicePreferences)
	if err != nil {
		return models.DefaultDevicePreferences(), s.fail("", "read device preferences", err)
	}
	if !ok {
		return models.DefaultDevicePreferences(), nil
	}
	var prefs models.DevicePreferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return models.DefaultDevicePreferences(), s.fail("", "read device preferences", err)
	}
	return prefs, nil
}

// PublishSyncConfiguration writes the active sync configuration to the data
// sync store so both devices run with the same tuning.
func (s *Service) PublishSyncConfiguration(ctx context.Context) error {
	data, err := json.Marshal(s.cfg)
	if err != nil {
		return s.fail("", "publish sync configuration", err)
	}
	if err := s.t.Data.Put(ctx, wire.KeySyncConfiguration, data); err != nil {
		return s.fail("", "publish sync configuration", err)
	}
	return nil
}
