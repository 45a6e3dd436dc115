// Package export renders sales listings as spreadsheets.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"kassza/internal/domain"
	"kassza/internal/huformat"
)

const SalesSheet = "Eladások"

var salesHeader = []string{"Azonosító", "Időpont", "Típus", "Termék", "Mennyiség", "Egységár", "Összesen", "Fizetés", "Eladó", "Műszak"}

var paymentLabels = map[domain.PaymentMethod]string{
	domain.PaymentCash:     "Készpénz",
	domain.PaymentCard:     "Bankkártya",
	domain.PaymentTransfer: "Átutalás",
}

// SalesWorkbook writes one row per sale plus a closing total row.
// Money columns are numeric so the sheet can be summed further.
func SalesWorkbook(sales []domain.Sale, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.Local
	}
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SalesSheet)
	if err != nil {
		return nil, fmt.Errorf("create sales sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	for c, v := range salesHeader {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		_ = f.SetCellValue(SalesSheet, cell, v)
	}

	total := 0.0
	for r, sale := range sales {
		lineTotal, _ := sale.Total.Float64()
		unitPrice, _ := sale.UnitPrice.Float64()
		total += lineTotal
		values := []any{
			sale.ID,
			huformat.DateTime(sale.Timestamp.In(loc)),
			string(sale.ItemType),
			sale.ItemName,
			sale.Quantity,
			unitPrice,
			lineTotal,
			paymentLabel(sale.PaymentMethod),
			sale.Seller,
			sale.ShiftID,
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(SalesSheet, cell, v)
		}
	}

	totalRow := len(sales) + 2
	labelCell, _ := excelize.CoordinatesToCellName(6, totalRow)
	totalCell, _ := excelize.CoordinatesToCellName(7, totalRow)
	_ = f.SetCellValue(SalesSheet, labelCell, "Összesen")
	_ = f.SetCellValue(SalesSheet, totalCell, total)

	_ = f.SetColWidth(SalesSheet, "A", "A", 24)
	_ = f.SetColWidth(SalesSheet, "B", "B", 20)
	_ = f.SetColWidth(SalesSheet, "C", "C", 8)
	_ = f.SetColWidth(SalesSheet, "D", "D", 32)
	_ = f.SetColWidth(SalesSheet, "E", "G", 12)
	_ = f.SetColWidth(SalesSheet, "H", "I", 14)
	_ = f.SetColWidth(SalesSheet, "J", "J", 24)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#1F2937"}, Pattern: 1},
	})
	_ = f.SetCellStyle(SalesSheet, "A1", "J1", headerStyle)

	moneyStyle, _ := f.NewStyle(&excelize.Style{CustomNumFmt: stringPtr(`#,##0 "Ft"`)})
	_ = f.SetCellStyle(SalesSheet, "F2", totalCell, moneyStyle)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write sales workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func paymentLabel(method domain.PaymentMethod) string {
	if label, ok := paymentLabels[method]; ok {
		return label
	}
	return string(method)
}

func stringPtr(s string) *string { return &s }
