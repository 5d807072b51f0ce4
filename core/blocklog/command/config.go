package command

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.dedis.ch/hyperlog/cli"
	"go.dedis.ch/hyperlog/core/blocklog/encoding"
	"go.dedis.ch/hyperlog/core/store/kv"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// ConfigName is the name of the configuration file looked up in the data
// directory when no path is given.
const ConfigName = "hyperlog.yaml"

// config is the content of the configuration file. The flags of a command
// override the values of the file.
type config struct {
	Engine    string        `yaml:"engine"`
	Encoding  string        `yaml:"encoding"`
	CacheSize int           `yaml:"cache_size"`
	Timeout   time.Duration `yaml:"timeout"`
	LogLevel  string        `yaml:"log_level"`
}

func defaultConfig() config {
	return config{
		Engine:   kv.EngineBolt,
		Encoding: encoding.UTF8,
	}
}

// loadConfig reads the configuration file, if any, and applies the flags on
// top of it.
func loadConfig(flags cli.Flags, readFile func(string) ([]byte, error)) (config, error) {
	cfg := defaultConfig()

	path := flags.Path("config")
	explicit := path != ""

	if !explicit {
		path = filepath.Join(flags.Path("dir"), ConfigName)
	}

	data, err := readFile(path)
	switch {
	case err == nil:
		err = yaml.Unmarshal(data, &cfg)
		if err != nil {
			return cfg, xerrors.Errorf("failed to parse '%s': %v", path, err)
		}
	case explicit || !xerrors.Is(err, os.ErrNotExist):
		return cfg, xerrors.Errorf("failed to read config: %v", err)
	}

	if flags.IsSet("engine") {
		cfg.Engine = flags.String("engine")
	}

	if flags.IsSet("encoding") {
		cfg.Encoding = flags.String("encoding")
	}

	if flags.IsSet("cache-size") {
		cfg.CacheSize = flags.Int("cache-size")
	}

	if cfg.LogLevel != "" {
		lvl, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return cfg, xerrors.Errorf("invalid log level: %v", err)
		}

		zerolog.SetGlobalLevel(lvl)
	}

	return cfg, nil
}
