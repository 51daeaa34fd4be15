package prompt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/aigoflow/designgen-service/internal/models"
)

// Template wraps the rendered brief, the same shape the inference service
// reads from prompt_template.json next to a model.
type Template struct {
	Name       string `json:"name"`
	SystemRole string `json:"system_role,omitempty"`
	UserPrefix string `json:"user_prefix"`
	UserSuffix string `json:"user_suffix"`
}

const defaultSystemRole = "You are a senior product designer who produces design systems as strict JSON."

const briefTemplate = `Create a complete design system for the following brief.

Description: {{.Description}}
{{- if .BrandName}}
Brand name: {{.BrandName}}
{{- end}}
{{- if .Industry}}
Industry: {{.Industry}}
{{- end}}
{{- if .Mood}}
Mood: {{join .Mood ", "}}
{{- end}}
{{- if .PrimaryColor}}
Primary brand color: {{.PrimaryColor}}
{{- end}}
{{- if .Framework}}
Target framework: {{.Framework}}
{{- end}}
Color scheme: {{if .DarkMode}}dark{{else}}light{{end}}

Respond with one JSON object inside a ` + "```json" + ` block, with these fields:
- "name": string
- "colors": object with "primary", "secondary" and "neutral" (each a hex string or an object of shade -> hex), plus optional accent/semantic colors
- "typography": object with "fontFamilies" {"heading", "body", "mono"} and "fontSizes" {name -> css size}
- "spacing": object with "scale", an increasing array of pixel values
- "components": array of {"name", "description", "variants"}
Use unique component names and do not include any markup or scripts in values.`

// Builder renders a DesignInput into the prompt sent to the completion service.
type Builder struct {
	tmpl    *template.Template
	wrapper Template
}

func NewBuilder() *Builder {
	return &Builder{
		tmpl: template.Must(template.New("brief").Funcs(template.FuncMap{
			"join": strings.Join,
		}).Parse(briefTemplate)),
		wrapper: Template{Name: "default", SystemRole: defaultSystemRole},
	}
}

// LoadTemplate replaces the wrapper with the JSON template at path. An empty
// path keeps the default.
func (b *Builder) LoadTemplate(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	if t.SystemRole == "" {
		t.SystemRole = defaultSystemRole
	}
	b.wrapper = t
	slog.Info("Loaded prompt template", "name", t.Name, "path", path)
	return nil
}

// Build renders the prompt. It only fails on template programmer errors.
func (b *Builder) Build(input models.DesignInput) (string, error) {
	var brief strings.Builder
	if err := b.tmpl.Execute(&brief, input); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	var out strings.Builder
	if b.wrapper.SystemRole != "" {
		out.WriteString(b.wrapper.SystemRole)
		out.WriteString("\n\n")
	}
	out.WriteString(b.wrapper.UserPrefix)
	out.WriteString(brief.String())
	out.WriteString(b.wrapper.UserSuffix)
	return out.String(), nil
}
