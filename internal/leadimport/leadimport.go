// Package leadimport parses lead spreadsheets (XLSX or CSV) into leads
// ready for upsert. Files carry a header row; columns are matched by
// name so exports from different CRMs import without remapping.
package leadimport

import (
	"encoding/csv"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/groveline/prospector/internal/model"
)

// columnAliases maps the header names we accept to canonical fields.
var columnAliases = map[string]string{
	"name":         "name",
	"business":     "name",
	"company":      "name",
	"url":          "url",
	"website":      "url",
	"site":         "url",
	"domain":       "url",
	"email":        "email",
	"e-mail":       "email",
	"phone":        "phone",
	"telephone":    "phone",
	"mobile":       "phone",
	"contact":      "contact_name",
	"contact name": "contact_name",
	"owner":        "contact_name",
}

// Parse reads a lead file and maps its rows into leads. The format is
// chosen by file extension. Rows without a resolvable domain are skipped
// and counted.
func Parse(path string) ([]model.Lead, int, error) {
	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, 0, eris.Errorf("leadimport: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, 0, err
	}
	if len(rows) < 2 {
		return nil, 0, eris.New("leadimport: file has no data rows")
	}

	cols := mapHeader(rows[0])
	if _, ok := cols["url"]; !ok {
		return nil, 0, eris.New("leadimport: no website/url/domain column found")
	}

	var leads []model.Lead
	skipped := 0
	now := time.Now().UTC()
	for _, row := range rows[1:] {
		lead, ok := rowToLead(row, cols, now)
		if !ok {
			skipped++
			continue
		}
		leads = append(leads, lead)
	}
	return leads, skipped, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "leadimport: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("leadimport: xlsx has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = strings.TrimSpace(cell.String())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "leadimport: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "leadimport: read csv")
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// mapHeader resolves each recognized header cell to its column index.
func mapHeader(header []string) map[string]int {
	cols := make(map[string]int)
	for i, cell := range header {
		key := strings.ToLower(strings.TrimSpace(cell))
		if field, ok := columnAliases[key]; ok {
			if _, taken := cols[field]; !taken {
				cols[field] = i
			}
		}
	}
	return cols
}

func cellAt(row []string, cols map[string]int, field string) string {
	idx, ok := cols[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func rowToLead(row []string, cols map[string]int, now time.Time) (model.Lead, bool) {
	rawURL := cellAt(row, cols, "url")
	domain := normalizeDomain(rawURL)
	if domain == "" {
		return model.Lead{}, false
	}

	lead := model.Lead{
		ID:          uuid.New().String(),
		URL:         "https://" + domain,
		Domain:      domain,
		Name:        cellAt(row, cols, "name"),
		ContactName: cellAt(row, cols, "contact_name"),
		Status:      model.LeadStatusFound,
		Source:      "import",
		CreatedAt:   now,
	}

	if email := strings.ToLower(cellAt(row, cols, "email")); strings.Contains(email, "@") {
		lead.Contacts = append(lead.Contacts, model.ContactMethod{
			Channel:  model.ChannelEmailSMTP,
			Address:  email,
			Personal: true,
		})
	}
	if phone := normalizePhone(cellAt(row, cols, "phone")); phone != "" {
		lead.Phone = phone
		lead.Contacts = append(lead.Contacts,
			model.ContactMethod{Channel: model.ChannelSMS, Address: phone, Priority: len(lead.Contacts)},
			model.ContactMethod{Channel: model.ChannelVoiceDrop, Address: phone, Priority: len(lead.Contacts) + 1},
		)
	}
	return lead, true
}

// normalizeDomain accepts full URLs or bare domains and returns the
// lowercased host without a www prefix.
func normalizeDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

var phoneDigitsRe = regexp.MustCompile(`\d`)

// normalizePhone reduces a phone cell to E.164 for US numbers; anything
// else is dropped rather than guessed at.
func normalizePhone(raw string) string {
	digits := strings.Join(phoneDigitsRe.FindAllString(raw, -1), "")
	switch len(digits) {
	case 10:
		return "+1" + digits
	case 11:
		if digits[0] == '1' {
			return "+" + digits
		}
	}
	return ""
}
