// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command assistant is the Aleutian conversational assistant CLI.
package main

import (
	"os"

	"github.com/AleutianAI/AleutianAssist/pkg/ux"
)

// Exit codes.
const (
	CLIExitSuccess = 0
	CLIExitError   = 1
	CLIExitBlocked = 2
)

func main() {
	root, a := newRootCmd()
	err := root.Execute()
	if err != nil {
		ux.NewOutput(os.Stderr).Error(err.Error())
	}
	a.Close()
	os.Exit(exitCode(err))
}
