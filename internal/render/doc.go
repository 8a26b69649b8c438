// Package render turns a finished loitering report into human-facing
// artefacts: an interactive HTML chart, a static PNG plot and an xlsx
// workbook.
package render
