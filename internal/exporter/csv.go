package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"sankeyhub/pkg/contracts/domain"
)

// utf8BOM keeps Excel from misreading the file as Latin-1.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteApplicationsCSV streams a user's applications as CSV, one row per
// application with the same columns as the workbook export.
func WriteApplicationsCSV(w io.Writer, apps []domain.Application) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(applicationColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, app := range apps {
		record := []string{
			app.AppliedAt.UTC().Format(time.RFC3339),
			string(app.Status),
			app.EAName,
			app.Broker,
			app.AccountNumber,
			app.Email,
			app.XAccount,
			formatBool(app.LicenseKey != ""),
			formatOptionalTime(app.ExpiryDate),
			app.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
