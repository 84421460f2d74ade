// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guardrail

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianAssist/services/policy_engine"
)

// Classifier is the part of the policy engine the guardrail depends on.
type Classifier interface {
	Evaluate(text string) policy_engine.Decision
}

var _ Classifier = (*policy_engine.PolicyEngine)(nil)

// PolicyHook returns a Hook that enforces a classification policy.
//
// # Description
//
// Block classifications deny the submission with the policy's reason.
// Redact classifications rewrite the input with [REDACTED:<id>] markers.
// Findings are attached as metadata so callers can audit them.
//
// # Inputs
//
//   - engine: The policy to enforce.
//   - logger: Receives one warning per blocked or redacted submission. nil
//     means slog.Default().
func PolicyHook(engine Classifier, logger *slog.Logger) Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, gc Context) (Outcome, error) {
		decision := engine.Evaluate(gc.Input)
		if len(decision.Findings) == 0 {
			return nil, nil
		}

		metadata := map[string]any{"findings": decision.Findings}
		if decision.Blocked {
			logger.WarnContext(ctx, "Guardrail blocked submission",
				"finding_count", len(decision.Findings),
				"reason", decision.Reason)
			deny := false
			return Verdict{Allow: &deny, Reason: decision.Reason, Metadata: metadata}, nil
		}

		if decision.Redacted != gc.Input {
			logger.InfoContext(ctx, "Guardrail redacted submission",
				"finding_count", len(decision.Findings))
		}
		redacted := decision.Redacted
		return Verdict{Input: &redacted, Metadata: metadata}, nil
	}
}
