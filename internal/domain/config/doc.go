// Package config persists user-tunable settings: display language, pip
// behavior, the default Python runtime, and the update policy.
//
// Values live in a plain JSON map under the config directory. Loading
// merges the file over locale-aware defaults, resets anything invalid, and
// drops keys that no longer exist, so the file self-heals across releases.
package config
