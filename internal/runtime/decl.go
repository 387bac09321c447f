package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/aelkeyd/aelkeyd/internal/devicemgr"
)

// declFile is the on-disk shape of the script file: it exposes top-level
// inputs and outputs tables. Since the embedded scripting language
// itself is out of scope, the script *is* this declarative file: a
// YAML/JSON/TOML document with
// `inputs`/`outputs` sequences, loaded the same way cmd/aelkeyd's own
// config files are (kong-yaml/kong-toml/go-toml, per SPEC_FULL AMBIENT
// STACK).
type declFile struct {
	Inputs  []devicemgr.InputDecl  `yaml:"inputs" json:"inputs" toml:"inputs"`
	Outputs []devicemgr.OutputDecl `yaml:"outputs" json:"outputs" toml:"outputs"`
}

// loadDeclFile reads and parses path, dispatching on its extension; an
// unrecognized extension is parsed as YAML, the superset format
// kong-yaml already uses for aelkeyd's own config files.
func loadDeclFile(path string) (declFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return declFile{}, fmt.Errorf("runtime: read script %s: %w", path, err)
	}

	var df declFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &df)
	case ".toml":
		err = toml.Unmarshal(data, &df)
	default:
		err = yaml.Unmarshal(data, &df)
	}
	if err != nil {
		return declFile{}, fmt.Errorf("runtime: parse script %s: %w", path, err)
	}
	return df, nil
}
