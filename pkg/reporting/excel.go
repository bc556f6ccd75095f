package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/futures-exec-agent/internal/killswitch"
)

// excelStyles holds the style IDs used across sheets
type excelStyles struct {
	Header int
	Profit int
	Loss   int
}

// WriteJournalXLSX exports the session journal to an Excel workbook with a
// Fills sheet and a Halts sheet
func WriteJournalXLSX(j *Journal, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const fillsSheet = "Fills"
	const haltsSheet = "Halts"

	fx.SetSheetName(fx.GetSheetName(0), fillsSheet)
	fx.NewSheet(haltsSheet)

	styles, err := createStyles(fx)
	if err != nil {
		return err
	}

	entries, transitions := j.Snapshot()
	if err := writeFillsSheet(fx, fillsSheet, entries, styles); err != nil {
		return err
	}
	if err := writeHaltsSheet(fx, haltsSheet, transitions, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func createStyles(fx *excelize.File) (excelStyles, error) {
	var styles excelStyles
	var err error

	styles.Header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.Profit, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "006100"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C6EFCE"}, Pattern: 1},
	})
	if err != nil {
		return styles, err
	}

	styles.Loss, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "9C0006"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1},
	})
	return styles, err
}

func writeFillsSheet(fx *excelize.File, sheet string, entries []JournalEntry, styles excelStyles) error {
	headers := []string{"Time", "Kind", "Symbol", "Side", "Quantity", "Price", "Leverage", "Stop", "Target", "Reason", "Order ID", "Realized PnL"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	headerRange, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := fx.SetCellStyle(sheet, "A1", headerRange, styles.Header); err != nil {
		return err
	}

	for row, e := range entries {
		f := e.Fill
		values := []interface{}{
			formatTime(f.Time),
			string(f.Kind),
			f.Symbol,
			string(f.Side),
			f.Quantity,
			f.Price,
			f.Leverage,
			f.StopPrice,
			f.TakeProfitPrice,
			f.Reason,
			f.OrderID,
			e.RealizedPnL,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
		if f.Kind == "close" {
			cell, _ := excelize.CoordinatesToCellName(len(values), row+2)
			style := styles.Profit
			if e.RealizedPnL < 0 {
				style = styles.Loss
			}
			if err := fx.SetCellStyle(sheet, cell, cell, style); err != nil {
				return err
			}
		}
	}
	return fx.SetColWidth(sheet, "A", "L", 16)
}

func writeHaltsSheet(fx *excelize.File, sheet string, transitions []killswitch.Transition, styles excelStyles) error {
	headers := []string{"Time", "From", "To", "Reason", "Triggered By"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	headerRange, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := fx.SetCellStyle(sheet, "A1", headerRange, styles.Header); err != nil {
		return err
	}

	for row, t := range transitions {
		values := []interface{}{
			formatTime(t.At),
			string(t.From),
			string(t.To),
			t.Reason,
			t.TriggeredBy,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return fx.SetColWidth(sheet, "A", "E", 20)
}
