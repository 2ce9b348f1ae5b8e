package a2a

// AgentCard is served at /.well-known/agent.json by the relay and by
// every worker.
type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Capabilities       Capabilities `json:"capabilities"`
	Skills             []Skill      `json:"skills"`
}

type Capabilities struct {
	Streaming bool `json:"streaming"`
}

// Skill describes one thing the agent can do; for workers this is one
// registered tool.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// Version reported on agent cards.
const Version = "1.0.0"

// NewCard builds a text-in, text-out card.
func NewCard(name, description, url string, skills []Skill) *AgentCard {
	if skills == nil {
		skills = []Skill{}
	}
	return &AgentCard{
		Name:               name,
		Description:        description,
		URL:                url,
		Version:            Version,
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills:             skills,
	}
}
