package payout

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const exportSheet = "Withdrawals"

var exportHeaders = []string{
	"ID", "User ID", "Amount (cents)", "Amount", "Method", "Destination",
	"Status", "Admin Note", "Processed By", "Processed At", "Requested At",
}

// ExportXLSX writes every withdrawal with the given status (all when empty)
// as a spreadsheet to w
func (s *Service) ExportXLSX(ctx context.Context, w io.Writer, status string) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return 0, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create header style: %w", err)
	}

	for i, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, header)
		f.SetCellStyle(exportSheet, cell, cell, headerStyle)
	}

	row := 2
	const page = 100
	for offset := 0; ; offset += page {
		list, err := s.List(ctx, status, page, offset)
		if err != nil {
			return 0, err
		}

		for _, wd := range list {
			processedAt := ""
			if wd.ProcessedAt != nil {
				processedAt = wd.ProcessedAt.Format("2006-01-02 15:04:05")
			}
			values := []any{
				wd.ID,
				wd.UserID,
				wd.AmountCents,
				FormatAmount(wd.AmountCents),
				wd.Method,
				wd.Destination,
				wd.Status,
				wd.AdminNote,
				wd.ProcessedBy,
				processedAt,
				wd.CreatedAt.Format("2006-01-02 15:04:05"),
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
				return 0, fmt.Errorf("failed to write row: %w", err)
			}
			row++
		}

		if len(list) < page {
			break
		}
	}

	f.SetColWidth(exportSheet, "A", "K", 18)

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return row - 2, nil
}

// FormatAmount renders USD cents as a currency string
func FormatAmount(cents int64) string {
	return message.NewPrinter(language.English).Sprint(currency.Symbol(currency.USD.Amount(float64(cents) / 100)))
}
