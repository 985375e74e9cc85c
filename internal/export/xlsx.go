// Package export renders DailyReport rows to xlsx for operators pulling a
// date range out of the mart, since the pipeline itself has no
// user-facing API.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/bionicpro/reports-etl/internal/domain"
)

var dailyReportHeader = []string{
	"External ID",
	"Report Date",
	"Movements",
	"Successful",
	"Success Rate %",
	"Avg Response Time ms",
	"Avg Battery %",
	"Avg Temp C",
	"Avg Connection Quality",
	"Min Battery %",
	"Max Temp C",
	"Errors",
	"Active Hours",
}

// DailyReports renders one row per domain.DailyReport into an xlsx
// workbook and returns its bytes.
func DailyReports(reports []domain.DailyReport) ([]byte, error) {
	f := excelize.NewFile()

	sheetName := "Daily Reports"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range dailyReportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i, r := range reports {
		row := i + 2
		values := []interface{}{
			r.ExternalID,
			r.ReportDate.Format("2006-01-02"),
			r.DailyMovements,
			r.DailySuccessful,
			r.DailySuccessRate,
			r.AvgResponseTimeMs,
			r.AvgBatteryPercent,
			r.AvgTempCelsius,
			r.AvgConnectionQuality,
			r.MinBatteryPercent,
			r.MaxTempCelsius,
			r.DailyErrors,
			r.ActiveHours,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}

	return buf.Bytes(), nil
}
