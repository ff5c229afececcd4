package multipay

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/multipay/internal/ledger"
)

const (
	transferTo   = "Transfer to %s"
	transferFrom = "Transfer from %s"
)

func init() {
	_ = message.SetString(language.English, transferTo, transferTo)
	_ = message.SetString(language.English, transferFrom, transferFrom)
	_ = message.SetString(language.Spanish, transferTo, "Transferencia a %s")
	_ = message.SetString(language.Spanish, transferFrom, "Transferencia desde %s")
	_ = message.SetString(language.Indonesian, transferTo, "Transfer ke %s")
	_ = message.SetString(language.Indonesian, transferFrom, "Transfer dari %s")
}

// Labels renders localized line labels.
type Labels struct {
	printer *message.Printer
}

// NewLabels builds Labels for locale, falling back to English on parse errors.
func NewLabels(locale string) *Labels {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Labels{printer: message.NewPrinter(tag)}
}

// Transfer returns the liquidity label of an internal transfer.
func (l *Labels) Transfer(direction ledger.Direction, journal string) string {
	format := transferTo
	if direction == ledger.DirectionOutbound {
		format = transferFrom
	}
	if l == nil || l.printer == nil {
		return message.NewPrinter(language.English).Sprintf(format, journal)
	}
	return l.printer.Sprintf(format, journal)
}
