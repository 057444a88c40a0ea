package agents

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Agent is one analysis prompt run over every transcript.
type Agent struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Phase       int    `yaml:"phase"`
	Description string `yaml:"description"`
	Instruction string `yaml:"instruction"`
}

type catalogFile struct {
	Agents []Agent `yaml:"agents"`
}

// Catalog is the ordered set of agents.
type Catalog struct {
	agents []Agent
	byName map[string]int
}

// DefaultCatalog returns the built-in agent catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// ParseCatalog decodes a YAML catalog. Names must be unique and every agent
// needs an instruction.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agent catalog: %w", err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("agent catalog is empty")
	}

	c := &Catalog{agents: f.Agents, byName: make(map[string]int, len(f.Agents))}
	for i, a := range f.Agents {
		if a.Name == "" {
			return nil, fmt.Errorf("agent %d has no name", i)
		}
		if a.Instruction == "" {
			return nil, fmt.Errorf("agent %s has no instruction", a.Name)
		}
		if _, dup := c.byName[a.Name]; dup {
			return nil, fmt.Errorf("duplicate agent %s", a.Name)
		}
		if a.Title == "" {
			c.agents[i].Title = titleFromName(a.Name)
		}
		c.byName[a.Name] = i
	}
	return c, nil
}

// Names returns agent names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.agents))
	for i, a := range c.agents {
		names[i] = a.Name
	}
	return names
}

func (c *Catalog) Get(name string) (Agent, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Agent{}, false
	}
	return c.agents[i], true
}

func (c *Catalog) Len() int { return len(c.agents) }

// titleFromName turns "budget_handling" into "Budget Handling".
func titleFromName(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
