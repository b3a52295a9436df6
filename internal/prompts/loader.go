// Package prompts loads embedded prompt templates. Each template file
// carries YAML frontmatter (name, description, input variables, system
// prompt) followed by the user-prompt template body.
package prompts

import (
	"embed"
	"fmt"
	"strings"

	langprompts "github.com/tmc/langchaingo/prompts"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Template names.
const (
	UCGeneration = "uc_generation"
	UCDifficulty = "uc_difficulty"
)

type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Inputs      []string `yaml:"inputs"`
	System      string   `yaml:"system"`
}

// Prompt is a loaded template: a fixed system prompt plus a user-prompt
// template with named inputs.
type Prompt struct {
	Name        string
	Description string
	System      string
	Inputs      []string

	user langprompts.PromptTemplate
}

// Load reads an embedded template by name.
func Load(name string) (*Prompt, error) {
	raw, err := templateFS.ReadFile("templates/" + name + ".tmpl")
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	meta, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	if meta.System == "" {
		return nil, fmt.Errorf("template %s: missing system prompt", name)
	}

	return &Prompt{
		Name:        meta.Name,
		Description: meta.Description,
		System:      strings.TrimSpace(meta.System),
		Inputs:      meta.Inputs,
		user: langprompts.PromptTemplate{
			Template:       strings.TrimSpace(body),
			InputVariables: meta.Inputs,
			TemplateFormat: langprompts.TemplateFormatGoTemplate,
		},
	}, nil
}

// RenderUser fills the user-prompt template with the given variables.
func (p *Prompt) RenderUser(vars map[string]any) (string, error) {
	rendered, err := p.user.Format(vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", p.Name, err)
	}
	return rendered, nil
}

// splitFrontmatter separates the YAML frontmatter block from the template
// body.
func splitFrontmatter(content string) (frontmatter, string, error) {
	var meta frontmatter

	if !strings.HasPrefix(content, "---\n") {
		return meta, "", fmt.Errorf("missing frontmatter")
	}
	endIdx := strings.Index(content[4:], "\n---")
	if endIdx < 0 {
		return meta, "", fmt.Errorf("unterminated frontmatter")
	}

	frontmatterYAML := content[4 : 4+endIdx]
	body := strings.TrimPrefix(content[4+endIdx+4:], "\n")

	if err := yaml.Unmarshal([]byte(frontmatterYAML), &meta); err != nil {
		return meta, "", fmt.Errorf("decode frontmatter: %w", err)
	}
	return meta, body, nil
}
