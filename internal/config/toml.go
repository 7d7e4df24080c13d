package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// applyTOMLFile reads a TOML file at path and merges its fields into cfg.
// A missing file is not an error — only the system/user/local layers that
// happen to exist apply; an explicit --conf path that is missing is.
func applyTOMLFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return err
	}
	return toml.Unmarshal(data, cfg)
}

// applyTOMLDir merges every *.toml file in dir, in lexical filename order,
// supporting --conf-dir as a drop-in directory of config fragments.
func applyTOMLDir(cfg *Config, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !hasTOMLSuffix(e.Name()) {
			continue
		}
		if err := applyTOMLFile(cfg, dir+"/"+e.Name(), true); err != nil {
			return err
		}
	}
	return nil
}

func hasTOMLSuffix(name string) bool {
	return len(name) > 5 && name[len(name)-5:] == ".toml"
}
