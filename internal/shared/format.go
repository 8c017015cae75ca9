package shared

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var esPrinter = message.NewPrinter(language.MustParse("es-AR"))

// FormatAmount renders a monetary amount with Spanish separators.
func FormatAmount(v float64) string {
	return esPrinter.Sprintf("$ %.2f", v)
}

// FormatQty renders a quantity with Spanish separators, dropping empty decimals.
func FormatQty(v float64) string {
	if v == float64(int64(v)) {
		return esPrinter.Sprintf("%d", int64(v))
	}
	return esPrinter.Sprintf("%.2f", v)
}
