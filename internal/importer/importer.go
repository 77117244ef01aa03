// Package importer parses uploaded roster workbooks into associate upsert
// rows.
package importer

import (
	"errors"
	"io"
	"strings"

	"github.com/Ca3de/CRET-Scan/internal/store"

	"github.com/xuri/excelize/v2"
)

var ErrNoRows = errors.New("workbook contains no roster rows")

// Parse reads the first sheet of an .xlsx roster. Expected columns:
// badge id, login, name. A header row is detected and skipped; rows with a
// blank badge id are dropped; a blank login falls back to the badge id.
func Parse(r io.Reader) ([]store.AssociateUpsert, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	sheet := file.GetSheetName(0)
	rows, err := file.GetRows(sheet)
	if err != nil {
		return nil, err
	}

	var upserts []store.AssociateUpsert
	for i, row := range rows {
		badge := cell(row, 0)
		login := cell(row, 1)
		name := cell(row, 2)
		if i == 0 && isHeader(badge) {
			continue
		}
		if badge == "" {
			continue
		}
		if login == "" {
			login = badge
		}
		upserts = append(upserts, store.AssociateUpsert{BadgeID: badge, Login: login, Name: name})
	}
	if len(upserts) == 0 {
		return nil, ErrNoRows
	}
	return upserts, nil
}

func cell(row []string, index int) string {
	if index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}

func isHeader(badge string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(badge, " ", "_"))
	return normalized == "badge_id" || normalized == "badge" || normalized == "badgeid"
}
