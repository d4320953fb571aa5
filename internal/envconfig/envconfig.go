// Package envconfig fills configuration structs from an env.Repository
// through koanf. Fields are bound with `koanf` tags naming the variable:
//
//	type Config struct {
//		BaseURL string        `koanf:"CDN_BASE_URL"`
//		Delay   time.Duration `koanf:"COMPLETION_DELAY"`
//		Token   Secret        `koanf:"CSRF_TOKEN"`
//	}
//
// Unset and empty variables leave the field untouched, so defaults can be
// assigned before calling Load.
package envconfig

import (
	"fmt"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// Secret is a string that is never printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return strings.Repeat("*", 5)
}

// Load decodes the variables of repository into conf, which must be a
// pointer to a struct. Every key in required must be set to a non-empty value.
func Load(conf interface{}, repository env.Repository, required ...string) error {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(variables(repository), ""), nil); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	var missing []string
	for _, key := range required {
		if !k.Exists(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}

	if err := k.UnmarshalWithConf("", conf, koanf.UnmarshalConf{
		Tag:       "koanf",
		FlatPaths: true,
	}); err != nil {
		return fmt.Errorf("decode environment: %w", err)
	}
	return nil
}

func variables(repository env.Repository) map[string]interface{} {
	vars := map[string]interface{}{}
	for _, kv := range repository.List() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" || value == "" {
			continue
		}
		vars[key] = value
	}
	return vars
}
