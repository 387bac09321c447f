// Package configpaths resolves platform-specific configuration and
// device-declaration file locations for aelkeyd, so a packaged install
// (systemd unit with no CLI arguments) can find its settings and its
// declaration file the same way a desktop app finds an XDG config dir.
package configpaths

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigDir returns the platform-specific configuration directory.
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("AppData"); appdata != "" {
			return filepath.Join(appdata, "aelkeyd"), nil
		}
		return "", errors.New("AppData not set")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "aelkeyd"), nil
		}
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", "aelkeyd"), nil
		}
		return "", errors.New("HOME not set")
	}
}

// EnsureDir ensures the directory for a given file path exists.
func EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return os.MkdirAll(dir, 0o755)
}

// DeclarationCandidatePaths returns, in priority order, the locations a
// device declaration file is looked for when the CLI is invoked without
// an explicit script argument: the working directory, the user config
// directory, then /etc, each tried as .yaml then .json (declarations are
// authored by hand far more often than generated, so the human-friendly
// format is tried first). This is a distinct search from
// ConfigCandidatePaths: that one resolves CLI flag defaults (log level,
// trace file), this one resolves the device/output declarations
// themselves.
func DeclarationCandidatePaths() []string {
	var out []string
	wd, _ := os.Getwd()
	out = append(out, filepath.Join(wd, "aelkeyd.yaml"), filepath.Join(wd, "aelkeyd.json"))

	if dir, err := DefaultConfigDir(); err == nil {
		out = append(out, filepath.Join(dir, "devices.yaml"), filepath.Join(dir, "devices.json"))
	}

	if runtime.GOOS != "windows" {
		out = append(out, filepath.Join("/etc/aelkeyd", "devices.yaml"), filepath.Join("/etc/aelkeyd", "devices.json"))
	}
	return out
}

// ResolveDeclarationPath returns userPath unchanged if non-empty,
// otherwise the first existing path from DeclarationCandidatePaths.
func ResolveDeclarationPath(userPath string) (string, error) {
	if userPath != "" {
		return userPath, nil
	}
	for _, p := range DeclarationCandidatePaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.New("configpaths: no declaration file given and none found in the default search paths")
}

// ConfigCandidatePaths builds candidate config paths per format.
// If userPath is provided, it is prioritized and routed to the matching
// loader by extension.
func ConfigCandidatePaths(userPath string) (jsonPaths, yamlPaths, tomlPaths []string) {
	add := func(slice *[]string, p string) { *slice = append(*slice, p) }

	if userPath != "" {
		switch ext := filepath.Ext(userPath); ext {
		case ".json":
			add(&jsonPaths, userPath)
		case ".yaml", ".yml":
			add(&yamlPaths, userPath)
		case ".toml":
			add(&tomlPaths, userPath)
		default:
			add(&jsonPaths, userPath)
		}
	}

	wd, _ := os.Getwd()
	add(&jsonPaths, filepath.Join(wd, "aelkeyd.json"))
	add(&yamlPaths, filepath.Join(wd, "aelkeyd.yaml"))
	add(&yamlPaths, filepath.Join(wd, "aelkeyd.yml"))
	add(&tomlPaths, filepath.Join(wd, "aelkeyd.toml"))

	if dir, err := DefaultConfigDir(); err == nil {
		add(&jsonPaths, filepath.Join(dir, "config.json"))
		add(&yamlPaths, filepath.Join(dir, "config.yaml"))
		add(&yamlPaths, filepath.Join(dir, "config.yml"))
		add(&tomlPaths, filepath.Join(dir, "config.toml"))
	}

	if runtime.GOOS != "windows" {
		add(&jsonPaths, filepath.Join("/etc/aelkeyd", "config.json"))
		add(&yamlPaths, filepath.Join("/etc/aelkeyd", "config.yaml"))
		add(&yamlPaths, filepath.Join("/etc/aelkeyd", "config.yml"))
		add(&tomlPaths, filepath.Join("/etc/aelkeyd", "config.toml"))
	}

	return
}
