package research

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/fennec/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed templates/plan.yaml
var defaultPlanYAML []byte

type planTemplate struct {
	Subtasks []subtaskTemplate `yaml:"subtasks"`
}

type subtaskTemplate struct {
	ID          int               `yaml:"id"`
	Type        model.SubtaskType `yaml:"type"`
	Description string            `yaml:"description"`
	Query       string            `yaml:"query"`
	Priority    string            `yaml:"priority"`
	DependsOn   []int             `yaml:"depends_on"`
}

type compiledSubtask struct {
	def         subtaskTemplate
	description *template.Template
	query       *template.Template
}

// Planner decomposes a research query into subtasks from a YAML plan template
type Planner struct {
	subtasks []*compiledSubtask
}

// DefaultPlanner returns the planner of the built-in plan: three searches, a
// summary of all of them and a report.
func DefaultPlanner() *Planner {
	p, err := NewPlanner(defaultPlanYAML)
	if err != nil {
		panic("invalid built-in plan template: " + err.Error())
	}
	return p
}

// NewPlanner parses a YAML plan template
func NewPlanner(data []byte) (*Planner, error) {
	var plan planTemplate
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, goerr.Wrap(err, "failed to parse plan template")
	}
	if len(plan.Subtasks) == 0 {
		return nil, goerr.New("plan template has no subtask")
	}

	seen := map[int]bool{}
	p := &Planner{}
	for _, def := range plan.Subtasks {
		if def.ID <= 0 || seen[def.ID] {
			return nil, goerr.New("subtask id must be positive and unique", goerr.V("id", def.ID))
		}
		if err := def.Type.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid subtask", goerr.V("id", def.ID))
		}
		if def.Type == model.SubtaskTypeSearch && strings.TrimSpace(def.Query) == "" {
			return nil, goerr.New("search subtask needs a query", goerr.V("id", def.ID))
		}
		for _, dep := range def.DependsOn {
			if !seen[dep] {
				return nil, goerr.New("subtask depends on a later or unknown subtask",
					goerr.V("id", def.ID),
					goerr.V("depends_on", dep))
			}
		}
		seen[def.ID] = true

		c := &compiledSubtask{def: def}
		var err error
		if c.description, err = template.New("description").Parse(def.Description); err != nil {
			return nil, goerr.Wrap(err, "invalid description template", goerr.V("id", def.ID))
		}
		if c.query, err = template.New("query").Parse(def.Query); err != nil {
			return nil, goerr.Wrap(err, "invalid query template", goerr.V("id", def.ID))
		}
		p.subtasks = append(p.subtasks, c)
	}

	return p, nil
}

// Plan renders the subtasks for query
func (p *Planner) Plan(ctx context.Context, query string) ([]*model.Subtask, error) {
	vars := map[string]string{"Query": query}

	subtasks := make([]*model.Subtask, 0, len(p.subtasks))
	for _, c := range p.subtasks {
		var desc, q bytes.Buffer
		if err := c.description.Execute(&desc, vars); err != nil {
			return nil, goerr.Wrap(err, "failed to render subtask description", goerr.V("id", c.def.ID))
		}
		if err := c.query.Execute(&q, vars); err != nil {
			return nil, goerr.Wrap(err, "failed to render subtask query", goerr.V("id", c.def.ID))
		}

		subtasks = append(subtasks, &model.Subtask{
			ID:          c.def.ID,
			Type:        c.def.Type,
			Description: desc.String(),
			Query:       strings.TrimSpace(q.String()),
			Priority:    c.def.Priority,
			DependsOn:   append([]int(nil), c.def.DependsOn...),
		})
	}

	return subtasks, nil
}
