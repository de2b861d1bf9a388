package mappings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	mappingsFileName = "mappings.yaml"
)

// Mappings supplies defaults for issue creation
type Mappings struct {
	// ComponentToProject maps Jira component names to project keys
	ComponentToProject map[string]string `yaml:"componentToProject"`
	// ProjectToIssueType maps project keys to the issue type created by default
	ProjectToIssueType map[string]string `yaml:"projectToIssueType"`
}

// NewMappings creates a new empty mappings structure
func NewMappings() *Mappings {
	return &Mappings{
		ComponentToProject: make(map[string]string),
		ProjectToIssueType: make(map[string]string),
	}
}

// LoadMappings loads mappings from configDir, returns empty mappings if the file doesn't exist
func LoadMappings(configDir string) (*Mappings, error) {
	data, err := os.ReadFile(filepath.Join(configDir, mappingsFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return NewMappings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings file: %w", err)
	}

	var mappings Mappings
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("failed to parse mappings file: %w", err)
	}

	if mappings.ComponentToProject == nil {
		mappings.ComponentToProject = make(map[string]string)
	}
	if mappings.ProjectToIssueType == nil {
		mappings.ProjectToIssueType = make(map[string]string)
	}

	return &mappings, nil
}

// SaveMappings saves mappings into configDir
func (m *Mappings) SaveMappings(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mappings: %w", err)
	}

	if err := os.WriteFile(filepath.Join(configDir, mappingsFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write mappings file: %w", err)
	}

	return nil
}

// ProjectForComponent returns the mapped project for a component, empty string if not found
func (m *Mappings) ProjectForComponent(component string) string {
	return m.ComponentToProject[component]
}

// IssueTypeForProject returns the mapped issue type for a project, empty string if not found
func (m *Mappings) IssueTypeForProject(project string) string {
	return m.ProjectToIssueType[project]
}

// SetComponentMapping sets a component to project mapping
func (m *Mappings) SetComponentMapping(component, project string) {
	m.ComponentToProject[component] = project
}

// SetIssueTypeMapping sets a project to issue type mapping
func (m *Mappings) SetIssueTypeMapping(project, issueType string) {
	m.ProjectToIssueType[project] = issueType
}
