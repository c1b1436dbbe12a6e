package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLowStock(t *testing.T) {
	title, body := LowStock("Cà phê sữa", "Kho Q1", 3, 10)
	assert.Equal(t, LowStockTitle, title)
	assert.Equal(t, "Sản phẩm 'Cà phê sữa' tại kho 'Kho Q1' chỉ còn 3 (ngưỡng cảnh báo: 10).", body)

	title, _ = LowStock("Trà", "Kho Q1", 0, 10)
	assert.Equal(t, OutOfStockTitle, title)
}

func TestFormatAmount(t *testing.T) {
	for in, want := range map[float64]string{
		0:         "0",
		999:       "999",
		1000:      "1.000",
		1234567.5: "1.234.567,5",
		-25000:    "-25.000",
	} {
		assert.Equal(t, want, formatAmount(in))
	}
}
