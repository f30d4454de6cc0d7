package approvalshandler

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"perfhub/internal/domain/approvals"
	"perfhub/internal/transport/http/api"
	"perfhub/internal/transport/http/middleware"
	"perfhub/internal/transport/http/shared"
)

const (
	historyDefaultLimit = 50
	historyMaxLimit     = 500
)

var (
	exportPageSize = 1000
	exportMaxRows  = 100000
)

var historyColumns = []string{"changedAt", "ruleId", "action", "changedBy", "previousData", "newData"}

func (h *Handler) historyFilter(w http.ResponseWriter, r *http.Request) (approvals.HistoryFilter, bool) {
	query := r.URL.Query()
	v := shared.NewValidator()
	action := strings.ToLower(strings.TrimSpace(query.Get("action")))
	allowed := make([]string, 0, len(approvals.HistoryActions))
	for _, a := range approvals.HistoryActions {
		allowed = append(allowed, string(a))
	}
	v.Enum("action", action, allowed, "unknown history action")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return approvals.HistoryFilter{}, false
	}
	return approvals.HistoryFilter{
		RuleID: strings.TrimSpace(query.Get("ruleId")),
		Action: approvals.HistoryAction(action),
	}, true
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	filter, ok := h.historyFilter(w, r)
	if !ok {
		return
	}
	page := shared.ParsePagination(r, historyDefaultLimit, historyMaxLimit)

	entries, total, err := h.Service.ListHistory(r.Context(), user.TenantID, filter, page.Limit, page.Offset)
	if err != nil {
		h.fail(w, r, err, "history_list_failed", "failed to list approval rule history")
		return
	}
	if entries == nil {
		entries = []approvals.HistoryEntry{}
	}
	shared.SetTotal(w, total)
	api.Success(w, entries, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	requestID := middleware.GetRequestID(r.Context())
	filter, ok := h.historyFilter(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "csv"
	}
	v := shared.NewValidator()
	v.Enum("format", format, []string{"csv", "xlsx"}, "must be csv or xlsx")
	if v.Reject(w, requestID) {
		return
	}

	entries, total, err := h.exportEntries(r, user.TenantID, filter)
	if errors.Is(err, errExportTooLarge) {
		api.Fail(w, http.StatusRequestEntityTooLarge, "export_too_large",
			fmt.Sprintf("history has %d entries; narrow the export with ruleId or action (max %d)", total, exportMaxRows), requestID)
		return
	}
	if err != nil {
		h.fail(w, r, err, "history_export_failed", "failed to export approval rule history")
		return
	}

	filename := "approval-rule-history-" + time.Now().UTC().Format("20060102")
	var (
		payload     []byte
		contentType string
	)
	switch format {
	case "xlsx":
		payload, err = historyXLSX(entries)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename += ".xlsx"
	default:
		payload, err = historyCSV(entries)
		contentType = "text/csv; charset=utf-8"
		filename += ".csv"
	}
	if err != nil {
		h.fail(w, r, err, "history_export_failed", "failed to export approval rule history")
		return
	}

	shared.SetTotal(w, len(entries))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

var errExportTooLarge = errors.New("history export exceeds row limit")

// exportEntries pages through the filtered history until every entry counted
// by the first page has been read.
func (h *Handler) exportEntries(r *http.Request, tenantID string, filter approvals.HistoryFilter) ([]approvals.HistoryEntry, int, error) {
	page, total, err := h.Service.ListHistory(r.Context(), tenantID, filter, exportPageSize, 0)
	if err != nil {
		return nil, 0, err
	}
	if total > exportMaxRows {
		return nil, total, errExportTooLarge
	}
	entries := make([]approvals.HistoryEntry, 0, total)
	entries = append(entries, page...)
	for len(page) > 0 && len(entries) < total {
		page, _, err = h.Service.ListHistory(r.Context(), tenantID, filter, exportPageSize, len(entries))
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, page...)
	}
	return entries, total, nil
}

func historyRow(entry approvals.HistoryEntry) []string {
	return []string{
		entry.ChangedAt.UTC().Format(time.RFC3339),
		entry.RuleID,
		string(entry.Action),
		entry.ChangedBy,
		string(entry.PreviousData),
		string(entry.NewData),
	}
}

func historyCSV(entries []approvals.HistoryEntry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(historyColumns); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := writer.Write(historyRow(entry)); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func historyXLSX(entries []approvals.HistoryEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "History"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	for i, col := range historyColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, err
		}
	}

	for rowIdx, entry := range entries {
		for colIdx, value := range historyRow(entry) {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, err
			}
		}
	}

	for i := range historyColumns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		width := 18.0
		if i >= 4 {
			width = 60
		}
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return nil, err
		}
	}

	buffer, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
