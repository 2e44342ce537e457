/*Package config loads odinflash's runtime configuration the way
cmd/andorhttp3/main.go's setupconfig does: defaults installed via
koanf/providers/structs, then overridden by an optional YAML file via
koanf/providers/file + koanf/parsers/yaml.
*/
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// FileName is the default configuration file name, read from the
// current working directory if present.
const FileName = "odinflash.yml"

// Config holds the knobs a flashing session may want to override from
// the spec-mandated defaults (spec.md §6/§9's compile-time constants).
type Config struct {
	VendorID         uint16        `yaml:"VendorID"`
	ProductIDs       []uint16      `yaml:"ProductIDs"`
	CommandTimeout   time.Duration `yaml:"CommandTimeout"`
	FinalizerTimeout time.Duration `yaml:"FinalizerTimeout"`
	StatusAddr       string        `yaml:"StatusAddr"`
	LogLevel         string        `yaml:"LogLevel"`
}

func defaults() Config {
	return Config{
		VendorID:         0x04E8,
		ProductIDs:       []uint16{0x685D, 0x68C3},
		CommandTimeout:   60 * time.Second,
		FinalizerTimeout: 120 * time.Second,
		StatusAddr:       "",
		LogLevel:         "info",
	}
}

// Load reads configuration from path (FileName if empty), layering any
// file contents over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	if path == "" {
		path = FileName
	}
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "yaml"), nil); err != nil {
		return Config{}, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") {
			return Config{}, err
		}
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
