// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

// =============================================================================
// Routes
// =============================================================================

// Mode names the pipeline branch that answered a question.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeMapping  Mode = "mapping"
	ModeIncident Mode = "incident"
)

// Route is the closed set of pipeline branches. Exactly one of
// StandardRoute, MappingRoute, or ThreatRoute is returned by Classify.
type Route interface {
	Mode() Mode
	isRoute()
}

// StandardRoute answers from general framework evidence.
type StandardRoute struct{}

// MappingRoute relates a source control to other frameworks.
type MappingRoute struct {
	Intent MappingIntent
}

// ThreatRoute pairs an ATT&CK technique with defensive controls.
type ThreatRoute struct {
	Intent ThreatIntent
}

func (StandardRoute) Mode() Mode { return ModeStandard }
func (MappingRoute) Mode() Mode  { return ModeMapping }
func (ThreatRoute) Mode() Mode   { return ModeIncident }

func (StandardRoute) isRoute() {}
func (MappingRoute) isRoute()  {}
func (ThreatRoute) isRoute()   {}

// Classify picks the route for a question.
//
// # Description
//
// Mapping is checked first and requires a control identifier; keyword-only
// mapping intent has nothing to anchor the source retrieval on and falls
// through. Threat intent is taken whenever it is active. Everything else is
// standard.
func Classify(question string) Route {
	if mi := ClassifyMapping(question); mi.Active && mi.ControlID != "" {
		return MappingRoute{Intent: mi}
	}
	if ti := ClassifyThreat(question); ti.Active {
		return ThreatRoute{Intent: ti}
	}
	return StandardRoute{}
}
