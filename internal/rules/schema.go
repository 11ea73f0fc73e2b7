package rules

// File is the top-level YAML structure of a fraud rules file.
type File struct {
	Version string    `yaml:"version"`
	Rules   []RuleDef `yaml:"rules"`
}

// RuleDef is one fraud rule. Rules are tried in file order.
type RuleDef struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Enabled     bool   `yaml:"enabled"`
	Reason      string `yaml:"reason"`
	Expression  string `yaml:"expression"`
}
