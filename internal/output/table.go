package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/nelssec/scanbridge/internal/dojo"
	"github.com/nelssec/scanbridge/internal/nessus"
)

func PrintExportTable(results []*nessus.ExportResult) {
	WriteExportTable(os.Stdout, results)
}

func WriteExportTable(w io.Writer, results []*nessus.ExportResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Nessus Export Results")
	fmt.Fprintln(w, "=====================")

	if len(results) == 0 {
		fmt.Fprintln(w, "No scans exported.")
		fmt.Fprintln(w)
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Scan ID", "Scan", "Polls", "Duration", "Result"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	saved := 0
	for _, r := range results {
		outcome := r.Error
		if r.OK() {
			saved++
			outcome = relPath(r.Path)
		}
		table.Append([]string{
			strconv.Itoa(r.ScanID),
			r.ScanName,
			strconv.Itoa(r.Polls),
			fmt.Sprintf("%.1fs", r.DurationSeconds),
			outcome,
		})
	}
	table.Render()

	fmt.Fprintf(w, "\nSaved %d of %d scans\n\n", saved, len(results))
}

func PrintImportTable(summary *dojo.Summary) {
	WriteImportTable(os.Stdout, summary)
}

func WriteImportTable(w io.Writer, summary *dojo.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "DefectDojo Import Results")
	fmt.Fprintln(w, "=========================")
	fmt.Fprintf(w, "Product:    %s (ID: %d)\n", summary.ProductName, summary.ProductID)
	fmt.Fprintf(w, "Engagement: %s (ID: %d)\n", summary.EngagementName, summary.EngagementID)
	fmt.Fprintf(w, "Scan Type:  %s\n", summary.ScanType)

	if len(summary.Files) > 0 {
		fmt.Fprintln(w)

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"File", "Test ID", "Error"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)

		for _, f := range summary.Files {
			testID := ""
			if f.Error == "" {
				testID = strconv.Itoa(f.TestID)
			}
			table.Append([]string{filepath.Base(f.File), testID, f.Error})
		}
		table.Render()
	}

	fmt.Fprintf(w, "\nImport complete. Imported %d of %d files to product ID %d, engagement ID %d\n\n",
		summary.Imported, len(summary.Files), summary.ProductID, summary.EngagementID)
}

func relPath(path string) string {
	rel, err := filepath.Rel(".", path)
	if err != nil {
		return path
	}
	return rel
}
