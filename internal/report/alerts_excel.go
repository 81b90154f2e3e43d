package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	AlertsSheet  = "Alerts"
	SummarySheet = "Summary"
)

// AlertExportHeader 报警导出表头
var AlertExportHeader = []string{
	"Alert ID",
	"Patient ID",
	"Severity",
	"Message",
	"Vital",
	"Actual Value",
	"Normal Range",
	"Category",
	"Created At",
	"Resolved",
	"Resolved At",
}

var alertColumnWidths = []float64{10, 12, 10, 70, 14, 14, 16, 18, 20, 10, 20}

// WriteAlertsWorkbook 生成报警导出 Excel 并写入 w
// anomalies 按 ID 索引，用于补充体征详情，可以为 nil
func WriteAlertsWorkbook(w io.Writer, alerts []models.Alert, anomalies map[int64]models.Anomaly, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(AlertsSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeader(f, AlertsSheet, AlertExportHeader, headerStyle); err != nil {
		return err
	}
	for i, width := range alertColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(AlertsSheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, alert := range alerts {
		if err := writeRow(f, AlertsSheet, i+2, alertRow(alert, anomalies)); err != nil {
			return fmt.Errorf("failed to write alert %d: %w", alert.ID, err)
		}
	}

	// 冻结表头
	if err := f.SetPanes(AlertsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}

	if err := writeSummary(f, alerts, generatedAt, headerStyle); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func alertRow(alert models.Alert, anomalies map[int64]models.Anomaly) []interface{} {
	row := []interface{}{
		alert.ID,
		alert.PatientID,
		string(alert.Severity),
		alert.Message,
		"", "", "", "",
		alert.CreatedAt.UTC().Format(time.RFC3339),
		yesNo(alert.IsResolved),
		"",
	}
	if alert.AnomalyID != nil {
		if a, ok := anomalies[*alert.AnomalyID]; ok {
			row[4] = string(a.Vital)
			row[5] = a.ActualValue
			row[6] = formatRange(a.ThresholdMin, a.ThresholdMax)
			row[7] = a.Category
		}
	}
	if alert.ResolvedAt != nil {
		row[10] = alert.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return row
}

// writeSummary 按级别统计未处理 / 已处理数量
func writeSummary(f *excelize.File, alerts []models.Alert, generatedAt time.Time, headerStyle int) error {
	type counts struct{ open, resolved int }
	bySeverity := map[models.Severity]*counts{
		models.SeverityRed:    {},
		models.SeverityYellow: {},
		models.SeverityBlue:   {},
	}
	patients := map[int64]struct{}{}
	for _, a := range alerts {
		c, ok := bySeverity[a.Severity]
		if !ok {
			continue
		}
		if a.IsResolved {
			c.resolved++
		} else {
			c.open++
		}
		patients[a.PatientID] = struct{}{}
	}

	if err := writeHeader(f, SummarySheet, []string{"Severity", "Open", "Resolved", "Total"}, headerStyle); err != nil {
		return err
	}

	row := 2
	total := counts{}
	for _, sev := range []models.Severity{models.SeverityRed, models.SeverityYellow, models.SeverityBlue} {
		c := bySeverity[sev]
		if err := writeRow(f, SummarySheet, row, []interface{}{string(sev), c.open, c.resolved, c.open + c.resolved}); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
		total.open += c.open
		total.resolved += c.resolved
		row++
	}
	if err := writeRow(f, SummarySheet, row, []interface{}{"total", total.open, total.resolved, total.open + total.resolved}); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	row += 2
	if err := writeRow(f, SummarySheet, row, []interface{}{"Patients", len(patients)}); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := writeRow(f, SummarySheet, row+1, []interface{}{"Generated At", generatedAt.UTC().Format(time.RFC3339)}); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return f.SetColWidth(SummarySheet, "A", "A", 16)
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func formatRange(min, max float64) string {
	return "[" + strconv.FormatFloat(min, 'f', -1, 64) + ", " + strconv.FormatFloat(max, 'f', -1, 64) + "]"
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
