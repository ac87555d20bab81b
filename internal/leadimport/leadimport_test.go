package leadimport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/groveline/prospector/internal/model"
)

func writeTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func writeTestCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse_XLSX(t *testing.T) {
	path := writeTestXLSX(t, [][]string{
		{"Business", "Website", "Email", "Phone", "Owner"},
		{"Rose Bakery", "https://www.rosebakery.com/menu", "rose@rosebakery.com", "(503) 555-0188", "Rose Delgado"},
		{"Elm Deli", "elmdeli.com", "", "", ""},
		{"No Site Co", "", "lost@nowhere.com", "", ""},
	})

	leads, skipped, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped, "row without a domain is skipped")
	require.Len(t, leads, 2)

	rose := leads[0]
	assert.Equal(t, "rosebakery.com", rose.Domain)
	assert.Equal(t, "https://rosebakery.com", rose.URL)
	assert.Equal(t, "Rose Bakery", rose.Name)
	assert.Equal(t, "Rose Delgado", rose.ContactName)
	assert.Equal(t, "+15035550188", rose.Phone)
	assert.Equal(t, model.LeadStatusFound, rose.Status)
	assert.Equal(t, "import", rose.Source)
	require.Len(t, rose.Contacts, 3)
	assert.Equal(t, model.ChannelEmailSMTP, rose.Contacts[0].Channel)
	assert.Equal(t, "rose@rosebakery.com", rose.Contacts[0].Address)

	elm := leads[1]
	assert.Equal(t, "elmdeli.com", elm.Domain)
	assert.Empty(t, elm.Contacts)
}

func TestParse_CSV(t *testing.T) {
	path := writeTestCSV(t, "name,url,email\nRose Bakery,rosebakery.com,rose@rosebakery.com\n")

	leads, skipped, err := Parse(path)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, leads, 1)
	assert.Equal(t, "rosebakery.com", leads[0].Domain)
}

func TestParse_MissingURLColumn(t *testing.T) {
	path := writeTestCSV(t, "name,email\nRose Bakery,rose@rosebakery.com\n")
	_, _, err := Parse(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no website/url/domain column")
}

func TestParse_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, _, err := Parse(path)
	require.Error(t, err)
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"(503) 555-0188", "+15035550188"},
		{"1-503-555-0188", "+15035550188"},
		{"555-0188", ""},
		{"+44 20 7946 0958", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizePhone(tc.raw), tc.raw)
	}
}

func TestNormalizeDomain(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"https://www.rosebakery.com/menu", "rosebakery.com"},
		{"elmdeli.com", "elmdeli.com"},
		{"WWW.ELMDELI.COM", "elmdeli.com"},
		{"", ""},
		{"just-text", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeDomain(tc.raw), tc.raw)
	}
}
