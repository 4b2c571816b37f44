package payroll

import (
	"strings"

	"github.com/shopspring/decimal"
)

// NewLine builds a line with amount = qty * rate.
func NewLine(source SourceType, sourceID string, qty, rate decimal.Decimal, tags ...string) PayRunLine {
	line := PayRunLine{
		SourceType: source,
		Qty:        qty,
		Rate:       rate,
		Amount:     qty.Mul(rate),
		Tags:       joinTags(tags...),
	}
	if sourceID != "" {
		id := sourceID
		line.SourceID = &id
	}
	return line
}

func joinTags(tags ...string) string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return strings.Join(out, tagSeparator)
}

// WarningCount returns the number of WARN_ tags carried by a line. The
// WARN_COUNT summary itself is not a warning.
func (l PayRunLine) WarningCount() int {
	count := 0
	for _, tag := range strings.Split(l.Tags, tagSeparator) {
		if tag != TagWarnCount && strings.HasPrefix(tag, WarnTagPrefix) {
			count++
		}
	}
	return count
}

func (l PayRunLine) HasTag(tag string) bool {
	for _, candidate := range strings.Split(l.Tags, tagSeparator) {
		if candidate == tag {
			return true
		}
	}
	return false
}

// Ledger accumulates priced lines in emission order.
type Ledger struct {
	lines    []PayRunLine
	gross    decimal.Decimal
	warnings int
}

func NewLedger() *Ledger {
	return &Ledger{gross: decimal.Zero}
}

func (l *Ledger) Add(lines ...PayRunLine) {
	for _, line := range lines {
		line.Amount = line.Qty.Mul(line.Rate)
		line.Position = len(l.lines) + 1
		l.lines = append(l.lines, line)
		l.gross = l.gross.Add(line.Amount)
		l.warnings += line.WarningCount()
	}
}

func (l *Ledger) Gross() decimal.Decimal {
	return l.gross
}

func (l *Ledger) Warnings() int {
	return l.warnings
}

// Close appends the consolidated warning line when warnings occurred and
// returns the final line set. The ledger must not be reused afterwards.
func (l *Ledger) Close() []PayRunLine {
	if l.warnings > 0 {
		summary := NewLine(SourceInfo, "", decimal.NewFromInt(int64(l.warnings)), decimal.Zero, TagWarnCount)
		summary.Description = "warnings raised while pricing routes"
		summary.Position = len(l.lines) + 1
		l.lines = append(l.lines, summary)
	}
	return l.lines
}

func sumAmounts(lines []PayRunLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Amount)
	}
	return total
}
