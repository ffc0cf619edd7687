package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"fitcart/internal/stubapi"
	"github.com/shopspring/decimal"
)

type CatalogWriter interface {
	Stock(products ...stubapi.Product)
}

// CSVImporter reads catalog exports (id,name,description,price,photo) into
// the stub backend. Rows with an empty id and a photo are continuation rows
// for the product above them.
type CSVImporter struct {
	reader  *csv.Reader
	catalog CatalogWriter
}

func NewCSVImporter(r io.Reader, catalog CatalogWriter) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	return &CSVImporter{
		reader:  csvr,
		catalog: catalog,
	}
}

type csvRow struct {
	ID     string
	Name   string
	Desc   string
	Price  string
	Photos []string
}

// Run parses CSV rows and stocks one product per id.
func (i *CSVImporter) Run(ctx context.Context) (int, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)

	var (
		current  *csvRow
		imported int
	)

	for {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read row: %w", err)
		}

		row := parseRow(record, index)
		if row == nil {
			continue
		}

		if row.ID != "" {
			if current != nil {
				if err := i.save(current); err != nil {
					return imported, err
				}
				imported++
			}
			current = row
			continue
		}

		if current != nil {
			current.Photos = append(current.Photos, row.Photos...)
		}
	}

	if current != nil {
		if err := i.save(current); err != nil {
			return imported, err
		}
		imported++
	}

	return imported, nil
}

func (i *CSVImporter) save(row *csvRow) error {
	id, err := strconv.ParseInt(row.ID, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid id %q", row.ID)
	}
	if row.Name == "" || row.Price == "" {
		return fmt.Errorf("invalid product row (missing required fields) for id %d", id)
	}
	price, err := decimal.NewFromString(row.Price)
	if err != nil || price.IsNegative() {
		return fmt.Errorf("invalid price for id %d: %s", id, row.Price)
	}

	p := stubapi.Product{
		ID:          id,
		Name:        row.Name,
		Description: row.Desc,
		Price:       price,
	}
	if len(row.Photos) > 0 {
		p.Photo = row.Photos[0]
	}
	i.catalog.Stock(p)
	return nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func parseRow(record []string, index map[string]int) *csvRow {
	id := pick(record, index, "id")
	photo := pick(record, index, "photo")
	if id == "" && photo == "" {
		return nil
	}

	row := &csvRow{
		ID:    id,
		Name:  pick(record, index, "name"),
		Desc:  pick(record, index, "description"),
		Price: pick(record, index, "price"),
	}
	if photo != "" {
		row.Photos = []string{photo}
	}
	return row
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
