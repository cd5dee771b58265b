package types

import "encoding/json"

// SetupRequest selects the profile for an install. Profile may be empty;
// multi-profile apps then get a choose_app_profile event instead of a task.
type SetupRequest struct {
	Profile string `json:"profile"`
}

// UpdateRequest targets a version change. Requirements optionally overrides
// which dependency spec is (re)installed after the checkout.
type UpdateRequest struct {
	Version      string `json:"version" binding:"required"`
	Requirements string `json:"requirements"`
}

// ConfigUpdateRequest carries the new value for a config item. Raw bytes
// keep the string-or-int union intact until the store validates it.
type ConfigUpdateRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}
