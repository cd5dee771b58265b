package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/providers/python"
	"github.com/appyard/appyard/internal/shared/paths"
)

// Item names as the UI and the config file know them.
const (
	itemLanguage      = "Language"
	itemPipCacheDir   = "Pip Cache Directory"
	itemPythonVersion = "Default Python Version"
	itemPipIndexURL   = "Pip Index URL"
	itemUpdateMethod  = "Update Method"
)

// Pip cache placement options.
const (
	pipCacheSystemDefault = "System Default"
	pipCacheAppInstall    = "App Install Directory"
)

// Package index options offered to the user. The empty string means
// "leave pip alone".
const (
	pipIndexSystemDefault = ""
	pipIndexPyPI          = "https://pypi.org/simple/"
	pipIndexTsinghua      = "https://pypi.tuna.tsinghua.edu.cn/simple"
	pipIndexAliyun        = "https://mirrors.aliyun.com/pypi/simple/"
	pipIndexUSTC          = "https://mirrors.ustc.edu.cn/pypi/simple/"
	pipIndexHuawei        = "https://repo.huaweicloud.com/repository/pypi/simple/"
	pipIndexTencent       = "https://mirrors.cloud.tencent.com/pypi/simple/"
)

// Update policies for installed apps.
const (
	UpdateMethodManual = "MANUAL_UPDATE"
	UpdateMethodAuto   = "AUTO_UPDATE"
	UpdateMethodIgnore = "IGNORE_UPDATE"
)

const defaultPythonVersion = "3.12"

// ErrUnknownItem reports an update against a setting that does not exist.
var ErrUnknownItem = errors.New("unknown config item")

// ValidationError reports a rejected config update; the stored value is
// left untouched.
type ValidationError struct {
	Item   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config item %q: %s", e.Item, e.Reason)
}

// Item is one user-visible setting: its current value plus the metadata
// the settings UI renders.
type Item struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Value        Value   `json:"value"`
	DefaultValue Value   `json:"default_value"`
	Options      []Value `json:"options,omitempty"`
}

func (it Item) clone() Item {
	it.Options = append([]Value(nil), it.Options...)
	return it
}

// accepts reports why a candidate value cannot be stored, or nil.
func (it *Item) accepts(v Value) *ValidationError {
	if v.kind != it.DefaultValue.kind {
		return &ValidationError{
			Item:   it.Name,
			Reason: fmt.Sprintf("expected a %s value, got a %s", it.DefaultValue.kind, v.kind),
		}
	}
	if len(it.Options) > 0 && !it.allows(v) {
		return &ValidationError{
			Item:   it.Name,
			Reason: fmt.Sprintf("%q is not one of the allowed options", v.String()),
		}
	}
	return nil
}

func (it *Item) allows(v Value) bool {
	for _, opt := range it.Options {
		if opt == v {
			return true
		}
	}
	return false
}

// normalize resets values that fell out of the allowed set, for example
// after an options list shrank between releases.
func (it *Item) normalize(log *logging.Logger) {
	if verr := it.accepts(it.Value); verr != nil {
		log.Warn("resetting config item to default",
			zap.String("item", it.Name),
			zap.String("value", it.Value.String()),
			zap.String("reason", verr.Reason))
		it.Value = it.DefaultValue
	}
}

func stringOptions(opts ...string) []Value {
	out := make([]Value, len(opts))
	for i, o := range opts {
		out[i] = stringValue(o)
	}
	return out
}

func defaultItems(locale string) map[string]*Item {
	lang := defaultLanguage(locale)
	pipIndex := defaultPipIndex(locale)

	items := []*Item{
		{
			Name:         itemLanguage,
			Description:  "The display language of the application.",
			Value:        stringValue(lang),
			DefaultValue: stringValue(lang),
			Options:      stringOptions(displayCodes...),
		},
		{
			Name:         itemPipCacheDir,
			Description:  "Specifies pip's package cache location. 'App Install Directory' uses a cache within the app's data folder. 'System Default' uses pip's standard cache location.",
			Value:        stringValue(pipCacheAppInstall),
			DefaultValue: stringValue(pipCacheAppInstall),
			Options:      stringOptions(pipCacheSystemDefault, pipCacheAppInstall),
		},
		{
			Name:         itemPythonVersion,
			Description:  "The default Python version to be used.",
			Value:        stringValue(defaultPythonVersion),
			DefaultValue: stringValue(defaultPythonVersion),
			Options:      stringOptions(python.SupportedVersions()...),
		},
		{
			Name:         itemPipIndexURL,
			Description:  "Specifies the pip index URL. Select the empty option to use the system's default pip configuration (equivalent to not setting an index URL).",
			Value:        stringValue(pipIndex),
			DefaultValue: stringValue(pipIndex),
			Options: stringOptions(
				pipIndexSystemDefault,
				pipIndexPyPI,
				pipIndexTsinghua,
				pipIndexAliyun,
				pipIndexUSTC,
				pipIndexHuawei,
				pipIndexTencent,
			),
		},
		{
			Name:         itemUpdateMethod,
			Description:  "Controls the app's update behavior. 'MANUAL_UPDATE' requires user action, 'AUTO_UPDATE' updates automatically, and 'IGNORE_UPDATE' disables update checks.",
			Value:        stringValue(UpdateMethodAuto),
			DefaultValue: stringValue(UpdateMethodAuto),
			Options:      stringOptions(UpdateMethodManual, UpdateMethodAuto, UpdateMethodIgnore),
		},
	}

	out := make(map[string]*Item, len(items))
	for _, it := range items {
		out[it.Name] = it
	}
	return out
}

// Store holds the user configuration: a fixed set of items whose values
// persist as a plain JSON map under the config directory.
type Store struct {
	mu     sync.RWMutex
	items  map[string]*Item
	layout paths.Layout
	log    *logging.Logger
}

// NewStore builds a store with locale-derived defaults. Call Load to merge
// whatever the config file holds.
func NewStore(layout paths.Layout, log *logging.Logger) *Store {
	return &Store{
		items:  defaultItems(systemLocale()),
		layout: layout,
		log:    log.Component("config"),
	}
}

// Load merges persisted values over the defaults, resets anything invalid,
// drops keys no longer defined, and writes the cleaned file back. A
// missing or unreadable file is not an error; the defaults stand.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.layout.ConfigFile()
	if raw, err := os.ReadFile(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Info("no config file yet, starting from defaults", zap.String("path", path))
		} else {
			s.log.Warn("config file unreadable, keeping defaults", zap.String("path", path), zap.Error(err))
		}
	} else {
		s.mergeLocked(raw)
	}

	for _, it := range s.items {
		it.normalize(s.log)
	}
	return s.saveLocked()
}

func (s *Store) mergeLocked(raw []byte) {
	var stored map[string]Value
	if err := sonic.Unmarshal(raw, &stored); err != nil {
		s.log.Warn("config file corrupt, keeping defaults", zap.Error(err))
		return
	}
	for name, val := range stored {
		it, ok := s.items[name]
		if !ok {
			s.log.Warn("dropping obsolete config key", zap.String("item", name))
			continue
		}
		it.Value = val
	}
}

func (s *Store) saveLocked() error {
	values := make(map[string]Value, len(s.items))
	for name, it := range s.items {
		values[name] = it.Value
	}
	// The std-compatible config sorts map keys so the file stays diffable.
	data, err := sonic.ConfigStd.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	path := s.layout.ConfigFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Items returns every setting sorted by name, as the settings UI expects.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Update validates and applies one value, then persists the file. Invalid
// values are rejected with a ValidationError and the stored value is left
// unchanged.
func (s *Store) Update(name string, raw []byte) (Item, error) {
	var val Value
	if err := sonic.Unmarshal(raw, &val); err != nil {
		return Item{}, &ValidationError{Item: name, Reason: "value must be a JSON string or integer"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[name]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownItem, name)
	}
	if verr := it.accepts(val); verr != nil {
		return Item{}, verr
	}

	previous := it.Value
	it.Value = val
	if err := s.saveLocked(); err != nil {
		it.Value = previous
		return Item{}, err
	}
	s.log.Info("config item updated", zap.String("item", name), zap.String("value", val.String()))
	return it.clone(), nil
}

// text returns the current value of a string-kinded item.
func (s *Store) text(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[name]
	if !ok || it.Value.kind != kindString {
		return "", false
	}
	return it.Value.str, true
}

// PipCacheDir returns the cache directory pip should use, or empty to
// leave pip's own default in place.
func (s *Store) PipCacheDir() string {
	if v, ok := s.text(itemPipCacheDir); ok && v == pipCacheAppInstall {
		return s.layout.PipCacheDir()
	}
	return ""
}

// PipIndexURL returns the configured package index, or empty for pip's
// default.
func (s *Store) PipIndexURL() string {
	v, _ := s.text(itemPipIndexURL)
	return v
}

// UpdateMethod returns the effective update policy. Anything unrecognized
// degrades to manual.
func (s *Store) UpdateMethod() string {
	v, _ := s.text(itemUpdateMethod)
	switch v {
	case UpdateMethodAuto, UpdateMethodIgnore:
		return v
	default:
		return UpdateMethodManual
	}
}

// DefaultPythonVersion returns the minor line used when a manifest does
// not pin one.
func (s *Store) DefaultPythonVersion() string {
	if v, ok := s.text(itemPythonVersion); ok && v != "" {
		return v
	}
	return defaultPythonVersion
}
