package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"kassza/internal/domain"
)

func TestSalesWorkbook(t *testing.T) {
	at := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	sales := []domain.Sale{
		{ID: "sale-1", ItemType: domain.ItemKindBook, ItemName: "Egri csillagok", Quantity: 2, UnitPrice: decimal.NewFromInt(3990), Total: decimal.NewFromInt(7980), PaymentMethod: domain.PaymentCash, Timestamp: at, Seller: "Anna"},
		{ID: "sale-2", ItemType: domain.ItemKindGift, ItemName: "Bögre", Quantity: 1, UnitPrice: decimal.NewFromInt(2500), Total: decimal.NewFromInt(2500), PaymentMethod: domain.PaymentCard, Timestamp: at, Seller: "Anna"},
	}

	data, err := SalesWorkbook(sales, time.UTC)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SalesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Azonosító", rows[0][0])
	assert.Equal(t, "Egri csillagok", rows[1][3])
	assert.Equal(t, "Bankkártya", rows[2][7])
	assert.Equal(t, "Összesen", rows[3][5])

	total, err := f.GetCellValue(SalesSheet, "G4", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "10480", total)
}

func TestSalesWorkbookEmpty(t *testing.T) {
	data, err := SalesWorkbook(nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
