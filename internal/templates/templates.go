// Package templates loads workflow definitions from a directory of YAML
// files and keeps them fresh via filesystem watching.
package templates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/watzon/loom/internal/workflow"
)

// ErrNotFound is returned when no template exists with the requested id.
var ErrNotFound = errors.New("template not found")

// Template is a named workflow definition.
type Template struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	Graph       workflow.Graph    `yaml:"graph"`
}

// Info is the listing form of a template.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Loader resolves workflow templates for the scheduler and the manual
// trigger surface.
type Loader interface {
	// List returns the available templates.
	List(ctx context.Context) ([]Info, error)

	// Load returns the template with the given id, or ErrNotFound.
	Load(ctx context.Context, id string) (*Template, error)
}

// Validate checks the template's structural integrity.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if len(t.Graph.Nodes) == 0 {
		return fmt.Errorf("template %s has no nodes", t.ID)
	}
	if err := t.Graph.Validate(); err != nil {
		return fmt.Errorf("template %s: %w", t.ID, err)
	}
	return nil
}

// parseFile reads one template YAML file. The id falls back to the file
// name without extension.
func parseFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}

	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", filepath.Base(path), err)
	}

	if tpl.ID == "" {
		base := filepath.Base(path)
		tpl.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if tpl.Name == "" {
		tpl.Name = tpl.ID
	}

	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	return &tpl, nil
}

func isTemplateFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
}
