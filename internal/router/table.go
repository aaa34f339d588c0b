package router

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type tableFile struct {
	Routes []KeywordRule `yaml:"routes"`
}

// LoadTable reads a keyword table from a YAML file. Rule order in the file
// is the scan order, so the file author controls cross-agent tie-breaks.
func LoadTable(path string) ([]KeywordRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing table: %w", err)
	}

	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse routing table: %w", err)
	}
	if len(file.Routes) == 0 {
		return nil, fmt.Errorf("routing table %s defines no routes", path)
	}
	for _, rule := range file.Routes {
		if !rule.AgentID.Valid() {
			return nil, fmt.Errorf("routing table %s routes to unknown agent %q", path, rule.AgentID)
		}
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("routing table %s has an empty keyword set for agent %q", path, rule.AgentID)
		}
	}
	return file.Routes, nil
}
