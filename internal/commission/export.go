package commission

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	rankingSheet = "Ranking"
	removedSheet = "Sem Taxa"
)

// WriteXLSX renders the ranking as a workbook: one sheet with the base and
// commission per waiter, one with the sales closed without service fee.
func (r Ranking) WriteXLSX(w io.Writer, ratePercent decimal.Decimal) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", rankingSheet); err != nil {
		return fmt.Errorf("commission: rename sheet: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("commission: money style: %w", err)
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("commission: header style: %w", err)
	}

	period := fmt.Sprintf("%s a %s", r.From.Format("02/01/2006"), r.To.Format("02/01/2006"))
	rows := [][]any{
		{"Período", period},
		{"Taxa (%)", ratePercent.InexactFloat64()},
		{},
		{"Posição", "Garçom", "Base", "Comissão"},
	}
	for i, e := range r.Entries {
		rows = append(rows, []any{i + 1, e.Waiter, e.Amount.InexactFloat64(), Commission(e.Amount, ratePercent).InexactFloat64()})
	}
	rows = append(rows, []any{"", "Total", r.Base.InexactFloat64(), Commission(r.Base, ratePercent).InexactFloat64()})
	if err := writeRows(f, rankingSheet, rows); err != nil {
		return err
	}
	last := len(rows)
	if err := f.SetCellStyle(rankingSheet, "A4", "D4", boldStyle); err != nil {
		return fmt.Errorf("commission: style header: %w", err)
	}
	if err := f.SetCellStyle(rankingSheet, "C5", fmt.Sprintf("D%d", last), moneyStyle); err != nil {
		return fmt.Errorf("commission: style amounts: %w", err)
	}
	if err := f.SetColWidth(rankingSheet, "B", "B", 24); err != nil {
		return fmt.Errorf("commission: column width: %w", err)
	}

	if _, err := f.NewSheet(removedSheet); err != nil {
		return fmt.Errorf("commission: add sheet: %w", err)
	}
	removed := [][]any{{"Data", "Transação", "Descrição", "Garçom", "Valor"}}
	for _, rm := range r.Removed {
		removed = append(removed, []any{rm.Timestamp.Format("02/01/2006 15:04"), rm.TransactionID, rm.Description, rm.Waiter, rm.Amount.InexactFloat64()})
	}
	if err := writeRows(f, removedSheet, removed); err != nil {
		return err
	}
	if err := f.SetCellStyle(removedSheet, "A1", "E1", boldStyle); err != nil {
		return fmt.Errorf("commission: style header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("commission: write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("commission: cell name: %w", err)
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("commission: write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
