package billing

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	exportSheet    = "Bills"
	exportPageSize = 500
)

var exportHeader = []string{
	"Bill ID", "Patient ID", "Medical Record ID", "Room ID", "Total Amount", "Paid Amount",
	"Stored Status", "Effective Status", "Payment Method", "Payment Date", "Created At",
}

var exportColumnWidths = []float64{38, 38, 38, 38, 14, 14, 14, 16, 16, 20, 20}

// ExportBills renders the bills matching filter as an XLSX workbook, one row
// per bill with its effective status.
func (s *Service) ExportBills(ctx context.Context, filter ListFilter) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(exportHeader))
	if err := f.SetCellStyle(exportSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	for i, w := range exportColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(exportSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	row := 2
	for offset := 0; ; offset += exportPageSize {
		bills, total, err := s.ListBills(ctx, filter, exportPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, b := range bills {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			values := exportRow(b)
			if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
			row++
		}
		if len(bills) == 0 || offset+len(bills) >= total {
			break
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func exportRow(b *BillingRecord) []interface{} {
	row := []interface{}{
		b.ID.String(),
		b.PatientID.String(),
		"",
		"",
		b.TotalAmount.InexactFloat64(),
		b.PaidAmount.InexactFloat64(),
		string(b.PaymentStatus),
		string(b.EffectiveStatus),
		"",
		"",
		b.CreatedAt.Format("2006-01-02 15:04"),
	}
	if b.MedicalRecordID != nil {
		row[2] = b.MedicalRecordID.String()
	}
	if b.RoomID != nil {
		row[3] = b.RoomID.String()
	}
	if b.PaymentMethod != nil {
		row[8] = *b.PaymentMethod
	}
	if b.PaymentDate != nil {
		row[9] = b.PaymentDate.Format("2006-01-02 15:04")
	}
	return row
}
