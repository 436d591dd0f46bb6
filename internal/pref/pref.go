// Package pref persists the hide-collected display preference.
package pref

import (
	"log/slog"

	json "github.com/goccy/go-json"

	"github.com/titanmap/tracker/internal/statedb"
)

const hideCollectedKey = "hide-collected:v1"

// LoadHideCollected returns the stored preference. Absent or malformed
// values degrade to false with a warning; this never fails the caller.
func LoadHideCollected(db statedb.Store, log *slog.Logger) bool {
	data, ok, err := db.Get(hideCollectedKey)
	if err != nil {
		log.Warn("Failed to read hide-collected preference", "error", err)
		return false
	}
	if !ok {
		return false
	}

	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		log.Warn("Malformed hide-collected preference, using default", "error", err)
		return false
	}
	return v
}

// SaveHideCollected stores the preference, reporting success. Failure is
// logged and otherwise tolerated.
func SaveHideCollected(db statedb.Store, v bool, log *slog.Logger) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn("Failed to serialize hide-collected preference", "error", err)
		return false
	}
	if err := db.Set(hideCollectedKey, data); err != nil {
		log.Warn("Failed to save hide-collected preference", "error", err)
		return false
	}
	return true
}
