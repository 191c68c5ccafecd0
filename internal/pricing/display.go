package pricing

import (
	"fmt"
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Display is one currency amount ready to show to a registrant.
type Display struct {
	Currency string `json:"currency"`
	Minor    int64  `json:"minor"`
	Text     string `json:"text"`
}

// Breakdown is a quote rendered in both currencies.
type Breakdown struct {
	Local         Display `json:"local"`
	Secondary     Display `json:"secondary"`
	IsCrewPricing bool    `json:"is_crew_pricing"`
	TierName      string  `json:"tier_name,omitempty"`
}

// Formatter renders minor-unit amounts for a locale. Amounts are interpreted
// at the cash scale of their currency, e.g. whole forints and euro cents.
type Formatter struct {
	local     currency.Unit
	secondary currency.Unit
	printer   *message.Printer
}

func NewFormatter(localCode, secondaryCode, locale string) (*Formatter, error) {
	local, err := currency.ParseISO(localCode)
	if err != nil {
		return nil, fmt.Errorf("local currency %q: %w", localCode, err)
	}
	secondary, err := currency.ParseISO(secondaryCode)
	if err != nil {
		return nil, fmt.Errorf("secondary currency %q: %w", secondaryCode, err)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("locale %q: %w", locale, err)
	}
	return &Formatter{
		local:     local,
		secondary: secondary,
		printer:   message.NewPrinter(tag),
	}, nil
}

func (f *Formatter) Breakdown(q Quote) Breakdown {
	return Breakdown{
		Local:         f.display(f.local, q.Local),
		Secondary:     f.display(f.secondary, q.Secondary),
		IsCrewPricing: q.IsCrewPricing,
		TierName:      q.TierName,
	}
}

func (f *Formatter) display(unit currency.Unit, minor int64) Display {
	scale, _ := currency.Cash.Rounding(unit)
	major := float64(minor) / math.Pow10(scale)
	return Display{
		Currency: unit.String(),
		Minor:    minor,
		Text:     f.printer.Sprintf("%v %s", number.Decimal(major, number.Scale(scale)), unit.String()),
	}
}
