// Package catalog lists the swarm types and models the gateway accepts.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Model struct {
	Name          string `yaml:"name" json:"name"`
	Provider      string `yaml:"provider" json:"provider"`
	ContextWindow int    `yaml:"context_window" json:"context_window"`
}

// Catalog is read-only after Load.
type Catalog struct {
	SwarmTypes []string `yaml:"swarm_types"`
	Models     []Model  `yaml:"models"`

	swarmSet map[string]struct{}
	modelSet map[string]Model
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Models) == 0 {
		return nil, errors.New("catalog: no models")
	}
	c.swarmSet = make(map[string]struct{}, len(c.SwarmTypes))
	for _, s := range c.SwarmTypes {
		c.swarmSet[s] = struct{}{}
	}
	c.modelSet = make(map[string]Model, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			return nil, errors.New("catalog: model without name")
		}
		c.modelSet[m.Name] = m
	}
	return &c, nil
}

func (c *Catalog) HasModel(name string) bool {
	_, ok := c.modelSet[name]
	return ok
}

func (c *Catalog) HasSwarmType(name string) bool {
	_, ok := c.swarmSet[name]
	return ok
}

// ModelNames returns the model names sorted alphabetically.
func (c *Catalog) ModelNames() []string {
	out := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, m.Name)
	}
	sort.Strings(out)
	return out
}
