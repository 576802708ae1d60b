package issuer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func TestReadSeedFile_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"issuer,url\n"+
			"hdfc,https://www.hdfcbank.com/cards/pixel\n"+
			"SBI,https://www.sbicard.com/cards/cashback\n"+
			",https://missing-issuer.example\n"+
			"axis,not-a-url\n",
	), 0o644))

	seeds, err := ReadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, SeedURL{Issuer: "hdfc", URL: "https://www.hdfcbank.com/cards/pixel"}, seeds[0])
	// Issuer names normalize to lowercase registry keys.
	assert.Equal(t, "sbi", seeds[1].Issuer)
}

func TestReadSeedFile_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.xlsx")

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("seeds")
	require.NoError(t, err)
	for _, row := range [][]string{
		{"issuer", "url"},
		{"hdfc", "https://www.hdfcbank.com/cards/pixel"},
		{"hdfc", "https://www.hdfcbank.com/cards/biz"},
	} {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}
	require.NoError(t, f.Save(path))

	seeds, err := ReadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "https://www.hdfcbank.com/cards/biz", seeds[1].URL)
}

func TestReadSeedFile_UnsupportedExtension(t *testing.T) {
	_, err := ReadSeedFile("seeds.txt")
	assert.Error(t, err)
}

func TestSeedsByIssuer(t *testing.T) {
	grouped := SeedsByIssuer([]SeedURL{
		{Issuer: "hdfc", URL: "https://a.example"},
		{Issuer: "hdfc", URL: "https://b.example"},
		{Issuer: "sbi", URL: "https://c.example"},
	})
	assert.Len(t, grouped["hdfc"], 2)
	assert.Len(t, grouped["sbi"], 1)
}
