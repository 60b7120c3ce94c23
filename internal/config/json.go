package config

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON renders a ToolPolicy as either a bare preset string or a JSON
// array of tool names, matching the shape documented in spec §3 PromptRule.
func (p ToolPolicy) MarshalJSON() ([]byte, error) {
	if p.IsPreset() {
		return json.Marshal(string(p.Preset))
	}
	return json.Marshal(p.Explicit)
}

// UnmarshalJSON accepts either form: a preset string ("readOnly", "safe",
// "all", "coordinator") or an explicit array of tool names.
func (p *ToolPolicy) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*p = ToolPolicy{Preset: ToolsPreset(asString)}
		return nil
	}
	var asList []string
	if err := json.Unmarshal(data, &asList); err == nil {
		*p = ToolPolicy{Explicit: asList}
		return nil
	}
	return fmt.Errorf("allowedTools: expected string preset or array of tool names, got %s", data)
}

type repositoryAlias Repository

// repositoryJSON adds the fields that need custom handling (AllowedTools)
// on top of the struct-tag-driven fields.
type repositoryJSON struct {
	repositoryAlias
	AllowedTools ToolPolicy `json:"allowedTools,omitempty"`
}

func (r Repository) MarshalJSON() ([]byte, error) {
	return json.Marshal(repositoryJSON{repositoryAlias: repositoryAlias(r), AllowedTools: r.AllowedTools})
}

func (r *Repository) UnmarshalJSON(data []byte) error {
	var aux repositoryJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Repository(aux.repositoryAlias)
	r.AllowedTools = aux.AllowedTools
	setRuleNames(r.LabelPrompts)
	return nil
}

// setRuleNames fills PromptRule.Name from its labelPrompts/promptDefaults
// map key, since the field itself is not part of the JSON wire shape.
func setRuleNames(m map[string]PromptRule) {
	for name, rule := range m {
		rule.Name = name
		m[name] = rule
	}
}

type promptRuleAlias PromptRule

type promptRuleJSON struct {
	promptRuleAlias
	AllowedTools ToolPolicy `json:"allowedTools,omitempty"`
}

func (p PromptRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(promptRuleJSON{promptRuleAlias: promptRuleAlias(p), AllowedTools: p.AllowedTools})
}

func (p *PromptRule) UnmarshalJSON(data []byte) error {
	var aux promptRuleJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = PromptRule(aux.promptRuleAlias)
	p.AllowedTools = aux.AllowedTools
	return nil
}

// configAlias lets Config's MarshalJSON/UnmarshalJSON delegate struct-tag
// handling to the compiler-generated codec while still intercepting Extra.
type configAlias Config

// MarshalJSON flattens Extra's keys back to the top level alongside the
// modeled fields, so a load-then-save round-trip reproduces keys this
// struct does not understand (spec §6).
func (c Config) MarshalJSON() ([]byte, error) {
	modeled, err := json.Marshal(configAlias(c))
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(modeled, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, known := merged[k]; known {
			continue // modeled fields win over stale Extra entries
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// knownConfigKeys lists the JSON keys Config models explicitly; anything
// else lands in Extra.
var knownConfigKeys = map[string]bool{
	"repositories":     true,
	"ngrokAuthToken":   true,
	"isLegacy":         true,
	"stripeCustomerId": true,
	"promptDefaults":   true,
	"dispatch":         true,
}

// UnmarshalJSON decodes the modeled fields normally and stashes every
// unrecognised top-level key into Extra.
func (c *Config) UnmarshalJSON(data []byte) error {
	var aux configAlias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !knownConfigKeys[k] {
			extra[k] = v
		}
	}
	*c = Config(aux)
	c.Extra = extra
	setRuleNames(c.PromptDefaults)
	return nil
}
