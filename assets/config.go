// Package assets holds the build-time configuration of the stylesheet
// pipeline and the helpers that scan and precompress its inputs.
package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Plugins understood by the stylesheet build.
const (
	PluginForms      = "@tailwindcss/forms"
	PluginTypography = "@tailwindcss/typography"
)

var knownPlugins = map[string]bool{
	PluginForms:      true,
	PluginTypography: true,
}

// Palette maps a shade (50, 100, ... 900) to a color.
type Palette map[string]string

// Theme ...
type Theme struct {
	Extend ThemeExtension `yaml:"extend"`
}

// ThemeExtension lists additions to the default theme.
type ThemeExtension struct {
	Colors map[string]Palette `yaml:"colors,omitempty"`
}

// BuildConfig is the stylesheet build configuration.
type BuildConfig struct {
	// Content are the glob patterns scanned for class names, relative to the assets directory.
	Content []string `yaml:"content"`
	Theme   Theme    `yaml:"theme"`
	Plugins []string `yaml:"plugins,omitempty"`
}

// RosePalette ...
func RosePalette() Palette {
	return Palette{
		"50":  "#fff1f2",
		"100": "#ffe4e6",
		"200": "#fecdd3",
		"300": "#fda4af",
		"400": "#fb7185",
		"500": "#f43f5e",
		"600": "#e11d48",
		"700": "#be123c",
		"800": "#9f1239",
		"900": "#881337",
	}
}

// DefaultBuildConfig returns the configuration the application ships with.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		Content: []string{
			"./js/**/*.js",
			"../lib/*_web.ex",
			"../lib/*_web/**/*.*ex",
		},
		Theme: Theme{
			Extend: ThemeExtension{
				Colors: map[string]Palette{"rose": RosePalette()},
			},
		},
		Plugins: []string{PluginForms, PluginTypography},
	}
}

// LoadBuildConfig reads a YAML build configuration. Unknown keys are rejected.
func LoadBuildConfig(path string) (BuildConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return BuildConfig{}, err
	}
	defer func() {
		_ = f.Close()
	}()

	var config BuildConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return BuildConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return BuildConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Validate ...
func (c BuildConfig) Validate() error {
	var errs []error
	if len(c.Content) == 0 {
		errs = append(errs, errors.New("no content patterns"))
	}
	for _, pattern := range c.Content {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			errs = append(errs, fmt.Errorf("invalid content pattern %q", pattern))
		}
	}
	for _, plugin := range c.Plugins {
		if !knownPlugins[plugin] {
			errs = append(errs, fmt.Errorf("unknown plugin %q", plugin))
		}
	}
	for name, palette := range c.Theme.Extend.Colors {
		if len(palette) == 0 {
			errs = append(errs, fmt.Errorf("color %q has no shades", name))
		}
	}
	return errors.Join(errs...)
}

// ContentFiles expands the content patterns relative to baseDir and returns
// the matching files, sorted and without duplicates. Patterns without a
// match are logged and skipped.
func (c BuildConfig) ContentFiles(baseDir string, logger log.Logger) ([]string, error) {
	seen := map[string]bool{}
	var files []string

	for _, p := range c.Content {
		base, pattern := doublestar.SplitPattern(filepath.ToSlash(p))
		root := filepath.Join(baseDir, filepath.FromSlash(base))

		matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithNoFollow(), doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", p, err)
		}
		if len(matches) == 0 {
			logger.Warnf("No match for content pattern: %s", p)
			continue
		}

		for _, match := range matches {
			path := filepath.Join(root, filepath.FromSlash(match))
			if seen[path] {
				continue
			}
			seen[path] = true
			files = append(files, path)
		}
	}

	sort.Strings(files)
	logger.Debugf("Content patterns matched %d files: %s", len(files), strings.Join(files, ", "))
	return files, nil
}
