// Package flow implements the guided conversation engine: flow selection, question
// sequencing, answer accumulation and prompt synthesis.
package flow

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/BTreeMap/AlienChat/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed flows.yaml
var embeddedFlows []byte

// rulesKey is the template variable holding the shared response format block.
const rulesKey = "Rules"

// Question is one scripted question. Its answer is bound to Slot in the template.
type Question struct {
	Slot string `yaml:"slot" json:"slot"`
	Text string `yaml:"text" json:"text"`
}

// Definition describes one guided flow.
type Definition struct {
	ID        models.FlowType `yaml:"id" json:"id"`
	Title     string          `yaml:"title" json:"title"`
	Intro     string          `yaml:"intro" json:"intro"`
	Questions []Question      `yaml:"questions" json:"questions"`
	Template  string          `yaml:"template" json:"-"`

	tmpl *template.Template
}

// Total returns the number of questions in the flow.
func (d *Definition) Total() int {
	return len(d.Questions)
}

// Render synthesizes the prompt from answers given in question order.
func (d *Definition) Render(answers []string, rules string) (string, error) {
	if len(answers) != len(d.Questions) {
		return "", fmt.Errorf("flow %s: expected %d answers, got %d", d.ID, len(d.Questions), len(answers))
	}
	data := make(map[string]string, len(d.Questions)+1)
	for i, q := range d.Questions {
		data[q.Slot] = answers[i]
	}
	data[rulesKey] = rules
	var buf bytes.Buffer
	if err := d.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("flow %s: render template: %w", d.ID, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// flowFile is the on-disk layout of a flow table.
type flowFile struct {
	Rules string       `yaml:"rules"`
	Flows []Definition `yaml:"flows"`
}

// Registry is an immutable table of flow definitions.
type Registry struct {
	rules string
	order []models.FlowType
	defs  map[models.FlowType]*Definition
}

// DefaultRegistry loads the embedded flow table.
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(embeddedFlows)
}

// LoadRegistry loads a flow table from path, or the embedded table when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flows file %s: %w", path, err)
	}
	slog.Debug("flow.LoadRegistry: loading flows file", "path", path)
	return ParseRegistry(data)
}

// ParseRegistry parses and validates a YAML flow table.
func ParseRegistry(data []byte) (*Registry, error) {
	var file flowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse flow table: %w", err)
	}
	if len(file.Flows) == 0 {
		return nil, errors.New("flow table defines no flows")
	}
	r := &Registry{
		rules: strings.TrimSpace(file.Rules),
		defs:  make(map[models.FlowType]*Definition, len(file.Flows)),
	}
	for i := range file.Flows {
		def := file.Flows[i]
		if err := def.compile(r.rules); err != nil {
			return nil, err
		}
		if _, dup := r.defs[def.ID]; dup {
			return nil, fmt.Errorf("flow %s defined twice", def.ID)
		}
		r.defs[def.ID] = &def
		r.order = append(r.order, def.ID)
	}
	slog.Debug("flow.ParseRegistry: flow table loaded", "flows", len(r.order))
	return r, nil
}

// Get returns the definition for a flow type.
func (r *Registry) Get(t models.FlowType) (*Definition, bool) {
	d, ok := r.defs[t]
	return d, ok
}

// List returns the definitions in table order.
func (r *Registry) List() []*Definition {
	out := make([]*Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// Rules returns the shared response format block.
func (r *Registry) Rules() string {
	return r.rules
}

// compile parses the template and checks that rendering binds every answer.
func (d *Definition) compile(rules string) error {
	if d.ID == "" {
		return errors.New("flow without id")
	}
	if len(d.Questions) == 0 {
		return fmt.Errorf("flow %s has no questions", d.ID)
	}
	seen := make(map[string]bool, len(d.Questions))
	for _, q := range d.Questions {
		switch {
		case q.Slot == "" || q.Text == "":
			return fmt.Errorf("flow %s: question needs slot and text", d.ID)
		case q.Slot == rulesKey:
			return fmt.Errorf("flow %s: slot name %q is reserved", d.ID, rulesKey)
		case seen[q.Slot]:
			return fmt.Errorf("flow %s: duplicate slot %q", d.ID, q.Slot)
		}
		seen[q.Slot] = true
	}

	tmpl, err := template.New(string(d.ID)).Option("missingkey=error").Parse(d.Template)
	if err != nil {
		return fmt.Errorf("flow %s: parse template: %w", d.ID, err)
	}
	d.tmpl = tmpl

	placeholders := make([]string, len(d.Questions))
	for i, q := range d.Questions {
		placeholders[i] = "<<" + q.Slot + ">>"
	}
	out, err := d.Render(placeholders, rules)
	if err != nil {
		return err
	}
	for i, p := range placeholders {
		if !strings.Contains(out, p) {
			return fmt.Errorf("flow %s: template never uses slot %q", d.ID, d.Questions[i].Slot)
		}
	}
	return nil
}
