package exporter

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"sankeyhub/pkg/contracts/domain"
)

const applicationsSheet = "Applications"

var applicationColumns = []string{
	"Applied At",
	"Status",
	"EA Name",
	"Broker",
	"Account",
	"Email",
	"X Account",
	"License Issued",
	"Expiry Date",
	"Updated At",
}

// BuildApplicationsWorkbook renders a user's applications as a spreadsheet,
// one row per application in the order given.
func BuildApplicationsWorkbook(userID string, apps []domain.Application) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", applicationsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, title := range applicationColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(applicationsSheet, cell, title); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(applicationColumns), 1)
	if err := f.SetCellStyle(applicationsSheet, "A1", lastHeader, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for i, app := range apps {
		row := i + 2
		values := []interface{}{
			app.AppliedAt.UTC().Format(time.RFC3339),
			string(app.Status),
			app.EAName,
			app.Broker,
			app.AccountNumber,
			app.Email,
			app.XAccount,
			app.LicenseKey != "",
			formatOptionalTime(app.ExpiryDate),
			app.UpdatedAt.UTC().Format(time.RFC3339),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, fmt.Errorf("data cell: %w", err)
			}
			if err := f.SetCellValue(applicationsSheet, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}
	}

	if err := f.SetColWidth(applicationsSheet, "A", "J", 22); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}
	return f, nil
}
