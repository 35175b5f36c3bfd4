// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator runs the ComplianceGPT query orchestrator.
//
// # Usage
//
//	orchestrator serve [--config compliancegpt.yaml]
//	orchestrator config print
//	orchestrator version
//
// Configuration comes from defaults, an optional YAML file and
// COMPLIANCEGPT_* environment variables. Legacy names such as
// GROQ_API_KEY, OPENROUTER_API_KEY, JINA_API_KEY, DATABASE_URL,
// SUPABASE_URL and SUPABASE_ANON_KEY are also honoured.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
