// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAssist/pkg/ux"
	"github.com/AleutianAI/AleutianAssist/services/policy_engine"
	"github.com/AleutianAI/AleutianAssist/services/policy_engine/enforcement"
)

// errFindings is returned by policy scan when anything matched, so the
// exit code can gate scripts.
var errFindings = errors.New("policy findings present")

// =============================================================================
// COMMAND TREE
// =============================================================================

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the message classification policy",
	}
	cmd.AddCommand(newPolicyScanCmd(a), newPolicyVerifyCmd())
	return cmd
}

// =============================================================================
// POLICY SCAN COMMAND
// =============================================================================

// PolicyScanResult is the --json output of policy scan.
type PolicyScanResult struct {
	Source   string                  `json:"source"`
	Blocked  bool                    `json:"blocked"`
	Reason   string                  `json:"reason,omitempty"`
	Findings []policy_engine.Finding `json:"findings"`
}

func newPolicyScanCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan [file]",
		Short: "Scan a file (or stdin) with the guardrail policy",
		Long: `Scan a file, or stdin when no file or "-" is given, with the same
policy the guardrail applies to outgoing messages.

Exit codes:
  0  nothing matched
  1  error
  2  findings present`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := "-"
			if len(args) == 1 {
				source = args[0]
			}
			text, err := readSource(source, cmd.InOrStdin())
			if err != nil {
				return err
			}

			engine, err := loadPolicyEngine(a.cfg.Guardrail.PolicyFile)
			if err != nil {
				return fmt.Errorf("load policy: %w", err)
			}
			decision := engine.Evaluate(text)

			if asJSON {
				result := PolicyScanResult{
					Source:   source,
					Blocked:  decision.Blocked,
					Reason:   decision.Reason,
					Findings: decision.Findings,
				}
				if result.Findings == nil {
					result.Findings = []policy_engine.Finding{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return fmt.Errorf("encode result: %w", err)
				}
			} else {
				printFindings(ux.NewOutput(cmd.OutOrStdout()), decision)
			}

			if len(decision.Findings) > 0 {
				return errFindings
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func printFindings(out *ux.Output, decision policy_engine.Decision) {
	if len(decision.Findings) == 0 {
		out.Success("No findings")
		return
	}
	for _, f := range decision.Findings {
		out.Finding(f.LineNumber, f.ClassificationName, f.PatternId, f.PatternDescription)
	}
	if decision.Blocked {
		out.Warning(fmt.Sprintf("A message with this content would be blocked: %s", decision.Reason))
	} else {
		out.Warning("A message with this content would be redacted")
	}
}

func readSource(source string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", source, err)
	}
	return string(data), nil
}

// =============================================================================
// POLICY VERIFY COMMAND
// =============================================================================

// newPolicyVerifyCmd prints the fingerprint of the embedded policy so an
// operator can confirm which rules a binary carries.
func newPolicyVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Print the SHA256 fingerprint of the embedded policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			data := enforcement.DataClassificationPatterns
			out := ux.NewOutput(cmd.OutOrStdout())
			out.Box("Embedded Policy", fmt.Sprintf("%d bytes, sha256:%x", len(data), sha256.Sum256(data)))
			return nil
		},
	}
}
