package multipay

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/multipay/internal/ledger"
)

type selection struct {
	companyID int64
	direction ledger.Direction
	rows      []Row
}

// availableLines returns the open receivable and payable lines of a move.
func availableLines(move ledger.Move) []ledger.MoveLine {
	var out []ledger.MoveLine
	for _, line := range move.Lines {
		if !line.AccountType.IsReconcilable() || line.Reconciled || !line.HasResidual() {
			continue
		}
		out = append(out, line)
	}
	return out
}

// lineDirection is inbound for lines the partner still owes and outbound otherwise.
func lineDirection(line ledger.MoveLine) ledger.Direction {
	residual := line.AmountResidual
	if line.Currency != "" && line.Currency != line.CompanyCurrency {
		residual = line.AmountResidualCurrency
	}
	if residual.IsPositive() {
		return ledger.DirectionInbound
	}
	return ledger.DirectionOutbound
}

// selectLines validates a selection of moves and builds one row per move with
// something left to pay.
func selectLines(moves []ledger.Move) (selection, error) {
	var sel selection
	for _, move := range moves {
		if move.State != ledger.MoveStatePosted {
			return sel, ErrNotPosted
		}
	}

	type candidate struct {
		move  ledger.Move
		lines []ledger.MoveLine
	}
	var candidates []candidate
	for _, move := range moves {
		if lines := availableLines(move); len(lines) > 0 {
			candidates = append(candidates, candidate{move: move, lines: lines})
		}
	}
	if len(candidates) == 0 {
		return sel, ErrNothingToPay
	}

	companies := make(map[int64]struct{})
	for _, c := range candidates {
		for _, line := range c.lines {
			companies[line.CompanyID] = struct{}{}
		}
	}
	if len(companies) > 1 {
		return sel, ErrDifferentCompanies
	}

	accountType := candidates[0].lines[0].AccountType
	sel.direction = lineDirection(candidates[0].lines[0])
	for _, c := range candidates {
		for _, line := range c.lines {
			if line.AccountType != accountType || lineDirection(line) != sel.direction {
				return selection{}, ErrMixedDirection
			}
		}
	}
	sel.companyID = candidates[0].lines[0].CompanyID

	for _, c := range candidates {
		sel.rows = append(sel.rows, newRow(c.move, c.lines, sel.direction))
	}
	return sel, nil
}

// uniqueMoveIDs drops repeated ids, keeping the first occurrence.
func uniqueMoveIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// checkRowsOpen fails when a row's entry is no longer posted or one of its
// invoice lines was settled after the batch was opened.
func checkRowsOpen(rows []Row, moves []ledger.Move) error {
	posted := make(map[int64]bool, len(moves))
	open := make(map[int64]struct{})
	for _, move := range moves {
		posted[move.ID] = move.State == ledger.MoveStatePosted
		for _, line := range availableLines(move) {
			open[line.ID] = struct{}{}
		}
	}
	for _, row := range rows {
		if !posted[row.MoveID] || len(row.LineIDs) == 0 {
			return nothingToPay(row.MoveName)
		}
		for _, id := range row.LineIDs {
			if _, ok := open[id]; !ok {
				return nothingToPay(row.MoveName)
			}
		}
	}
	return nil
}

func newRow(move ledger.Move, lines []ledger.MoveLine, direction ledger.Direction) Row {
	first := lines[0]
	currency := first.Currency
	if currency == "" {
		currency = first.CompanyCurrency
	}
	amount := decimal.Zero
	amountCurrency := decimal.Zero
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ID)
		amount = amount.Add(line.AmountResidual)
		if line.Currency != "" && line.Currency != line.CompanyCurrency {
			amountCurrency = amountCurrency.Add(line.AmountResidualCurrency)
		} else {
			amountCurrency = amountCurrency.Add(line.AmountResidual)
		}
	}
	communication := move.Ref
	if communication == "" {
		communication = move.Name
	}
	return Row{
		ID:                   NewToken(),
		MoveID:               move.ID,
		MoveName:             move.Name,
		CompanyID:            first.CompanyID,
		PartnerID:            first.PartnerID,
		Direction:            direction,
		AccountID:            first.AccountID,
		LineIDs:              ids,
		SourceCurrency:       currency,
		SourceAmount:         amount.Abs(),
		SourceAmountCurrency: amountCurrency.Abs(),
		Handling:             HandlingOpen,
		Communication:        communication,
		WriteOffLabel:        DefaultWriteOffLabel,
	}
}
