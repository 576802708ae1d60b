package issuer

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// SeedURL is one analyst-supplied card page URL. Seed files let operators
// feed URLs that adapter discovery misses, such as co-branded cards listed
// on a partner site.
type SeedURL struct {
	Issuer string
	URL    string
}

// ReadSeedFile loads seed URLs from a CSV or XLSX file based on extension.
// Both formats carry two columns, issuer and url, with an optional header
// row.
func ReadSeedFile(path string) ([]SeedURL, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readSeedCSV(path)
	case ".xlsx":
		return readSeedXLSX(path)
	default:
		return nil, eris.Errorf("issuer: unsupported seed file type %s", filepath.Ext(path))
	}
}

func readSeedCSV(path string) ([]SeedURL, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "issuer: open seed csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var seeds []SeedURL
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "issuer: read seed csv")
		}
		if s, ok := seedFromRow(record); ok {
			seeds = append(seeds, s)
		}
	}
	return seeds, nil
}

func readSeedXLSX(path string) ([]SeedURL, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "issuer: open seed xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("issuer: seed xlsx has no sheets")
	}

	var seeds []SeedURL
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if s, ok := seedFromRow(cells); ok {
			seeds = append(seeds, s)
		}
	}
	return seeds, nil
}

// seedFromRow parses one issuer,url row, skipping headers and blanks.
func seedFromRow(cells []string) (SeedURL, bool) {
	if len(cells) < 2 {
		return SeedURL{}, false
	}
	issuer := strings.TrimSpace(cells[0])
	u := strings.TrimSpace(cells[1])
	if issuer == "" || u == "" {
		return SeedURL{}, false
	}
	if strings.EqualFold(issuer, "issuer") && strings.EqualFold(u, "url") {
		return SeedURL{}, false
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return SeedURL{}, false
	}
	return SeedURL{Issuer: strings.ToLower(issuer), URL: u}, true
}

// SeedsByIssuer groups seed URLs by issuer name.
func SeedsByIssuer(seeds []SeedURL) map[string][]string {
	out := map[string][]string{}
	for _, s := range seeds {
		out[s.Issuer] = append(out[s.Issuer], s.URL)
	}
	return out
}
