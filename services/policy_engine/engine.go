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
	"strings"

	"github.com/AleutianAI/AleutianAssist/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// PolicyEngine classifies outgoing user messages before they reach the model.
// It holds the loaded rules and is safe for concurrent use once built.
type PolicyEngine struct {
	Classifiers []Classification
}

// NewPolicyEngine builds an engine from the classification file embedded in
// the binary via the enforcement package.
func NewPolicyEngine() (*PolicyEngine, error) {
	return NewPolicyEngineFromYAML(enforcement.DataClassificationPatterns)
}

// NewPolicyEngineFromYAML builds an engine from a classification document.
//
// It performs the following operations:
// 1. Unmarshals the YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts classifications by priority, highest first.
//
// Returns an error if the YAML is malformed or contains an invalid regex.
func NewPolicyEngineFromYAML(data []byte) (*PolicyEngine, error) {
	var file ClassificationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the policy file: %w", err)
	}
	if err := file.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex: %w", err)
	}
	file.SortByPriority()
	return &PolicyEngine{Classifiers: file.Classifications}, nil
}

// Classify returns the name of the highest priority classification that
// matches text, or PublicClassification.
func (e *PolicyEngine) Classify(text string) string {
	data := []byte(text)
	for _, classifier := range e.Classifiers {
		for _, re := range classifier.CompiledPatterns {
			if re.Match(data) {
				return classifier.Name
			}
		}
	}
	return PublicClassification
}

// Scan checks every line of text against every pattern and reports each
// match, ordered by line and then by classification priority.
func (e *PolicyEngine) Scan(text string) []Finding {
	var findings []Finding
	for lineNum, line := range strings.Split(text, "\n") {
		for _, classifier := range e.Classifiers {
			for _, pattern := range classifier.Patterns {
				for _, match := range pattern.compiledPattern.FindAllString(line, -1) {
					findings = append(findings, Finding{
						LineNumber:         lineNum + 1,
						MatchedContent:     strings.TrimSpace(match),
						ClassificationName: classifier.Name,
						Action:             classifier.effectiveAction(),
						PatternId:          pattern.Id,
						PatternDescription: pattern.Description,
						Confidence:         pattern.Confidence,
					})
				}
			}
		}
	}
	return findings
}

// Redact replaces every match of a redact classification with
// "[REDACTED:<pattern id>]" and returns the rewritten text with the
// findings that caused it.
func (e *PolicyEngine) Redact(text string) (string, []Finding) {
	var findings []Finding
	for _, classifier := range e.Classifiers {
		if classifier.effectiveAction() != ActionRedact {
			continue
		}
		for _, pattern := range classifier.Patterns {
			marker := "[REDACTED:" + pattern.Id + "]"
			text = pattern.compiledPattern.ReplaceAllStringFunc(text, func(match string) string {
				findings = append(findings, Finding{
					MatchedContent:     strings.TrimSpace(match),
					ClassificationName: classifier.Name,
					Action:             ActionRedact,
					PatternId:          pattern.Id,
					PatternDescription: pattern.Description,
					Confidence:         pattern.Confidence,
				})
				return marker
			})
		}
	}
	return text, findings
}

// Evaluate decides whether text may be sent and in what form.
//
// A match in any block classification blocks the message; the reason
// names the highest priority one. Otherwise redact classifications are
// applied and the rewritten text is returned in Decision.Redacted.
func (e *PolicyEngine) Evaluate(text string) Decision {
	findings := e.Scan(text)
	for _, classifier := range e.Classifiers {
		if classifier.effectiveAction() != ActionBlock {
			continue
		}
		for _, f := range findings {
			if f.ClassificationName == classifier.Name {
				return Decision{
					Blocked:  true,
					Reason:   fmt.Sprintf("Message blocked by policy: %s (%s)", classifier.Name, f.PatternDescription),
					Redacted: text,
					Findings: findings,
				}
			}
		}
	}
	redacted, _ := e.Redact(text)
	return Decision{Redacted: redacted, Findings: findings}
}
