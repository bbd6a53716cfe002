// Package source ingests campaign leads from exported CRM CSV files.
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"phoneagent_backend/internal/leads/domain"
	"phoneagent_backend/platform/logger"
	"phoneagent_backend/platform/phone"
)

// Result summarizes one ingest pass.
type Result struct {
	Total      int
	Imported   int
	NoPhone    int
	BadPhone   int
	Duplicates int
}

// Reader parses CRM export CSVs into leads. Column names follow the CRM
// export format, including its trailing-space quirks.
type Reader struct {
	log *logger.Logger
}

func NewReader(log *logger.Logger) *Reader {
	return &Reader{log: log}
}

// ReadFile parses the CSV at path. Rows without a dialable phone number
// are counted and skipped, never fatal.
func (r *Reader) ReadFile(path string) ([]domain.Lead, *Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open leads file: %w", err)
	}
	defer f.Close()
	return r.Read(f)
}

// Read parses CSV records from rd.
func (r *Reader) Read(rd io.Reader) ([]domain.Lead, *Result, error) {
	reader := csv.NewReader(rd)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := indexColumns(header)
	if _, ok := cols["id"]; !ok {
		return nil, nil, fmt.Errorf("leads csv is missing the ID column")
	}

	result := &Result{}
	seen := make(map[string]bool)
	var leads []domain.Lead

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv record: %w", err)
		}
		result.Total++

		lead, ok := r.parseRecord(cols, record)
		if !ok {
			continue
		}
		if lead.Phone == "" {
			result.NoPhone++
			continue
		}
		if !phone.IsDialable(lead.Phone) {
			result.BadPhone++
			r.log.Warn("skipping lead with undialable phone", "leadId", lead.ID, "phone", lead.Phone)
			continue
		}
		lead.Phone = phone.NormalizeE164(lead.Phone)

		if seen[lead.ID] {
			result.Duplicates++
			continue
		}
		seen[lead.ID] = true

		result.Imported++
		leads = append(leads, lead)
	}

	return leads, result, nil
}

func (r *Reader) parseRecord(cols map[string]int, record []string) (domain.Lead, bool) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	id := field("id")
	if id == "" {
		return domain.Lead{}, false
	}

	// Personal contact details win over work ones.
	phoneNumber := field("personal phones")
	if phoneNumber == "" {
		phoneNumber = field("work phones")
	}
	email := field("personal emails")
	if email == "" {
		email = field("work emails")
	}

	return domain.Lead{
		ID:       id,
		Name:     field("name"),
		Phone:    firstValue(phoneNumber),
		Email:    firstValue(email),
		Address:  field("address"),
		City:     field("city"),
		ZIP:      field("zip"),
		Country:  field("country name"),
		CUPSLuz:  field("cups luz"),
		CUPSGas:  field("cups gas"),
		IBAN:     field("iban"),
		DNI:      field("dni"),
		Source:   field("source"),
		Status:   domain.StatusNotProcessed,
		CachedAt: time.Now(),
	}, true
}

// indexColumns maps normalized header names to their positions. CRM
// exports pad some headers with trailing spaces, so names are trimmed
// and lowercased before lookup.
func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, exists := cols[key]; !exists {
			cols[key] = i
		}
	}
	return cols
}

// firstValue takes the first entry of a multi-value CRM cell
// ("600111222, 600333444").
func firstValue(raw string) string {
	for _, sep := range []string{",", ";"} {
		if idx := strings.Index(raw, sep); idx >= 0 {
			return strings.TrimSpace(raw[:idx])
		}
	}
	return strings.TrimSpace(raw)
}
