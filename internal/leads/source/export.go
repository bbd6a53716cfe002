package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"phoneagent_backend/internal/leads/domain"
)

// exportHeader mirrors the ingest column names so an exported file can be
// re-imported as-is. Call-tracking columns are appended at the end.
var exportHeader = []string{
	"ID", "Name", "Personal Phones", "Personal Emails",
	"Address", "City", "ZIP", "Country Name",
	"CUPS Luz", "CUPS Gas", "IBAN", "DNI", "Source",
	"Status", "Outcome", "Call Count", "Last Called At",
}

// WriteCSV dumps the leads to w as a CSV backup.
func WriteCSV(w io.Writer, leads []domain.Lead) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, lead := range leads {
		lastCalled := ""
		if lead.LastCalledAt != nil {
			lastCalled = lead.LastCalledAt.Format(time.RFC3339)
		}
		record := []string{
			lead.ID, lead.Name, lead.Phone, lead.Email,
			lead.Address, lead.City, lead.ZIP, lead.Country,
			lead.CUPSLuz, lead.CUPSGas, lead.IBAN, lead.DNI, lead.Source,
			string(lead.Status), string(lead.Outcome),
			strconv.Itoa(lead.CallCount), lastCalled,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv record for lead %s: %w", lead.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
