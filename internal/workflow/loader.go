package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// LoadDefinition parses one workflow definition from YAML. Missing workflow
// and stage ids are generated, and stages are normalized to order-ascending.
func LoadDefinition(data []byte) (*WorkflowDefinition, error) {
	wf := &WorkflowDefinition{}
	if err := yaml.Unmarshal(data, wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}

	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	for i := range wf.Stages {
		if wf.Stages[i].ID == "" {
			wf.Stages[i].ID = uuid.NewString()
		}
	}
	sort.SliceStable(wf.Stages, func(i, j int) bool {
		return wf.Stages[i].Order < wf.Stages[j].Order
	})

	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// LoadDefinitionsDir loads every *.yaml / *.yml file in dir as a workflow
// definition. Used to seed the definition store at startup.
func LoadDefinitionsDir(dir string) ([]*WorkflowDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definitions dir: %w", err)
	}

	var defs []*WorkflowDefinition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		wf, err := LoadDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		defs = append(defs, wf)
	}
	return defs, nil
}
