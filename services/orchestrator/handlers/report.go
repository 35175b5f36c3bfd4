// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/datatypes"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/observability"
	"github.com/BhavyaBibra/ComplianceGPT/services/orchestrator/services"
)

// HandleReport serves POST /api/report.
//
// Returns 400 for an empty or invalid transcript and 200 with
// datatypes.ReportResponse otherwise. A provider outage still yields 200;
// the markdown is the apology text.
func HandleReport(reports *services.ReportService, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithDetail(c, metrics, observability.EndpointReport, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request body")
			return
		}
		slog.Info("Received report request", "report_type", req.ReportType, "messages", len(req.Messages))

		markdown, err := reports.Generate(c.Request.Context(), &req)
		if errors.Is(err, datatypes.ErrNoReportMessages) {
			slog.Warn("Rejected report request", "error", err)
			abortWithDetail(c, metrics, observability.EndpointReport, http.StatusBadRequest, observability.ErrorCodeValidation, err.Error())
			return
		}
		if err != nil {
			slog.Warn("Rejected report request", "error", err)
			abortWithDetail(c, metrics, observability.EndpointReport, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request: "+err.Error())
			return
		}
		c.JSON(http.StatusOK, datatypes.ReportResponse{Markdown: markdown})
	}
}
