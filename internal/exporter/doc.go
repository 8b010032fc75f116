// Package exporter renders operator downloads of application data.
//
// BuildApplicationsWorkbook produces the xlsx workbook and
// WriteApplicationsCSV the plain CSV equivalent, prefixed with a UTF-8
// BOM so Excel opens it cleanly. Both formats share one column layout.
package exporter
