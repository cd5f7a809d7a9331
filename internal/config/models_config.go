package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelsConfig controls which upstream models are exposed and accepted.
type ModelsConfig struct {
	Whitelist []string `yaml:"whitelist"`
	Blocklist []string `yaml:"blocklist"`
	Fallback  []string `yaml:"fallback"`
	// Search adds a "<model>-search" alias with Google Search grounding.
	Search bool `yaml:"search"`
	// File is an optional YAML file whose lists are merged into this section.
	File     string        `yaml:"file"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// modelListFile is the layout of ModelsConfig.File.
type modelListFile struct {
	Whitelist []string `yaml:"whitelist"`
	Blocklist []string `yaml:"blocklist"`
}

// LoadModelList reads an external whitelist/blocklist file.
// A missing file yields empty lists.
func LoadModelList(path string) (whitelist, blocklist []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read models file: %w", err)
	}

	var f modelListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse models file: %w", err)
	}
	return f.Whitelist, f.Blocklist, nil
}

// mergeModelFile folds the external list file into the section.
func (m *ModelsConfig) mergeModelFile() error {
	if m.File == "" {
		return nil
	}
	wl, bl, err := LoadModelList(m.File)
	if err != nil {
		return err
	}
	m.Whitelist = append(m.Whitelist, wl...)
	m.Blocklist = append(m.Blocklist, bl...)
	return nil
}
