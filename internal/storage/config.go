package storage

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Backend option maps carry everything as strings (they come from YAML,
// env, or flags). These helpers parse them with per-field errors.

// GetString returns the value for key, or defaultValue when the key is
// absent or empty.
func GetString(config map[string]string, key, defaultValue string) string {
	if v, ok := config[key]; ok && v != "" {
		return v
	}
	return defaultValue
}

// GetBool parses a boolean option. On top of strconv.ParseBool's forms it
// accepts yes/no and on/off, case-insensitive.
func GetBool(config map[string]string, key string, defaultValue bool) (bool, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(v) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return false, &ConfigError{
			Field:   key,
			Value:   v,
			Message: "must be a boolean (true/false, 1/0, yes/no, on/off)",
			Cause:   err,
		}
	}
	return b, nil
}

// GetInt parses an integer option.
func GetInt(config map[string]string, key string, defaultValue int) (int, error) {
	i, err := GetInt64(config, key, int64(defaultValue))
	return int(i), err
}

// GetInt64 parses an int64 option. Plain numbers only; no size suffixes.
func GetInt64(config map[string]string, key string, defaultValue int64) (int64, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}

	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &ConfigError{
			Field:   key,
			Value:   v,
			Message: "must be an integer",
			Cause:   err,
		}
	}
	return i, nil
}

// GetDuration parses a duration option. Accepts Go duration strings
// ("5s", "1m30s") or a bare integer meaning seconds.
func GetDuration(config map[string]string, key string, defaultValue time.Duration) (time.Duration, error) {
	v, ok := config[key]
	if !ok || v == "" {
		return defaultValue, nil
	}

	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	return 0, &ConfigError{
		Field:   key,
		Value:   v,
		Message: "must be a duration (e.g., '5s', '1m30s') or integer seconds",
	}
}

// ExpandPath expands a leading ~ or ~/ to the user's home directory and
// cleans the result.
func ExpandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return filepath.Clean(path)
}

// MergeConfig overlays explicit settings onto backend defaults, returning a
// new map. An empty explicit value does not mask a non-empty default.
func MergeConfig(defaults, overrides map[string]string) map[string]string {
	result := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		result[k] = v
	}
	for k, v := range overrides {
		if v == "" {
			continue
		}
		result[k] = v
	}
	return result
}
