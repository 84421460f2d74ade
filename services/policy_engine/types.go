// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package policy_engine

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// Action is what the assistant does with a message that matches a
// classification.
type Action string

const (
	// ActionBlock refuses the message outright.
	ActionBlock Action = "block"
	// ActionRedact replaces each match with a marker and lets the message through.
	ActionRedact Action = "redact"
	// ActionAllow records the finding and changes nothing.
	ActionAllow Action = "allow"
)

// PublicClassification is returned by Classify when nothing matches.
const PublicClassification = "public"

type ClassificationFile struct {
	Classifications []Classification `yaml:"classifications"`
}

type Classification struct {
	Name             string           `yaml:"name"`
	Description      string           `yaml:"description"`
	Priority         int              `yaml:"priority"`
	Action           Action           `yaml:"action"`
	Patterns         []Pattern        `yaml:"patterns"`
	CompiledPatterns []*regexp.Regexp `yaml:"-"`
}

type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := ConfidenceLevel(s)
	switch incoming {
	case High, Medium, Low:
		*c = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incoming)
	}
}

// UnmarshalYAML accepts the known actions. An empty value means allow.
func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := Action(s)
	switch incoming {
	case ActionBlock, ActionRedact, ActionAllow:
		*a = incoming
		return nil
	case "":
		*a = ActionAllow
		return nil
	default:
		return fmt.Errorf("invalid value for Action: %q", incoming)
	}
}

// effectiveAction treats a missing action as allow.
func (c Classification) effectiveAction() Action {
	if c.Action == "" {
		return ActionAllow
	}
	return c.Action
}

func (p *ClassificationFile) CompileRegexes() error {
	for i := range p.Classifications {
		for j := range p.Classifications[i].Patterns {
			pattern := &p.Classifications[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s for %s: %w", pattern.Regex, pattern.Id, err)
			}
			p.Classifications[i].CompiledPatterns = append(p.Classifications[i].CompiledPatterns, re)
			pattern.compiledPattern = re
		}
	}
	return nil
}

func (p *ClassificationFile) SortByPriority() {
	sort.SliceStable(p.Classifications, func(i, j int) bool {
		return p.Classifications[i].Priority > p.Classifications[j].Priority
	})
}

// Finding is one pattern match inside a scanned message.
type Finding struct {
	LineNumber         int             `json:"line_number"`
	MatchedContent     string          `json:"matched_content"`
	ClassificationName string          `json:"classification_name"`
	Action             Action          `json:"action"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
}

// Decision summarizes what the engine would do with a message.
type Decision struct {
	Blocked  bool      `json:"blocked"`
	Reason   string    `json:"reason,omitempty"`
	Redacted string    `json:"redacted"`
	Findings []Finding `json:"findings"`
}
