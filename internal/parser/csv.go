package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSVParser handles CSV files. Rows are rendered as "header: value" lines
// and grouped into paragraph batches so tabular data still segments well.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*Extracted, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	title := titleFromFilename(filename)
	if len(records) == 0 {
		return &Extracted{Title: title}, nil
	}

	headers := records[0]
	dataRows := records[1:]

	const batchSize = 20
	var out textBuilder
	out.AddParagraph("Columns: " + strings.Join(headers, ", "))

	for i := 0; i < len(dataRows); i += batchSize {
		end := i + batchSize
		if end > len(dataRows) {
			end = len(dataRows)
		}

		var text strings.Builder
		for _, row := range dataRows[i:end] {
			for j, cell := range row {
				if j > 0 {
					text.WriteString(", ")
				}
				if j < len(headers) {
					text.WriteString(headers[j] + ": " + cell)
				} else {
					text.WriteString(cell)
				}
			}
			text.WriteString("\n")
		}
		out.AddParagraph(text.String())
	}

	return &Extracted{
		Title: title,
		Text:  out.String(),
	}, nil
}
