package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/multipay/internal/fx"
	"github.com/odyssey-erp/multipay/internal/ledger"
	"github.com/odyssey-erp/multipay/internal/multipay"
)

// BatchFile is the offline description of a batch payment.
type BatchFile struct {
	Company struct {
		ID                     int64  `yaml:"id"`
		Currency               string `yaml:"currency"`
		PartnerID              int64  `yaml:"partner_id"`
		PaymentDebitAccountID  int64  `yaml:"payment_debit_account_id"`
		PaymentCreditAccountID int64  `yaml:"payment_credit_account_id"`
	} `yaml:"company"`
	Journal struct {
		ID       int64  `yaml:"id"`
		Name     string `yaml:"name"`
		Currency string `yaml:"currency"`
	} `yaml:"journal"`
	PaymentMethod struct {
		ID               int64  `yaml:"id"`
		Name             string `yaml:"name"`
		PaymentAccountID int64  `yaml:"payment_account_id"`
	} `yaml:"payment_method"`
	PaymentDate string            `yaml:"payment_date"`
	Currency    string            `yaml:"currency"`
	Memo        string            `yaml:"memo"`
	Group       *bool             `yaml:"group"`
	Locale      string            `yaml:"locale"`
	Rates       map[string]string `yaml:"rates"`
	Rows        []BatchFileRow    `yaml:"rows"`
}

// BatchFileRow is one invoice of the batch.
type BatchFileRow struct {
	Move              string `yaml:"move"`
	PartnerID         int64  `yaml:"partner_id"`
	Direction         string `yaml:"direction"`
	AccountID         int64  `yaml:"account_id"`
	Total             string `yaml:"total"`
	Amount            string `yaml:"amount"`
	Handling          string `yaml:"handling"`
	WriteOffAccountID int64  `yaml:"write_off_account_id"`
	WriteOffLabel     string `yaml:"write_off_label"`
}

// PreviewEntry is one entry a confirmation would create.
type PreviewEntry struct {
	PartnerID int64
	Amount    decimal.Decimal
	Currency  string
	Lines     []ledger.LineInput
}

// Preview is the computed outcome of a batch file.
type Preview struct {
	Batch   *multipay.Batch
	Entries []PreviewEntry
}

// LoadBatchFile parses a YAML batch definition.
func LoadBatchFile(r io.Reader) (BatchFile, error) {
	var file BatchFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return BatchFile{}, fmt.Errorf("preview: parse batch file: %w", err)
	}
	if len(file.Rows) == 0 {
		return BatchFile{}, errors.New("preview: batch file has no rows")
	}
	return file, nil
}

// BuildPreview computes totals, grouping and journal lines without a database.
func BuildPreview(ctx context.Context, file BatchFile) (Preview, error) {
	rates := fx.StaticRates{}
	for currency, raw := range file.Rates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return Preview{}, fmt.Errorf("preview: rate %s: %w", currency, err)
		}
		rates[strings.ToUpper(currency)] = rate
	}

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if file.PaymentDate != "" {
		parsed, err := time.Parse("2006-01-02", file.PaymentDate)
		if err != nil {
			return Preview{}, fmt.Errorf("preview: payment_date: %w", err)
		}
		date = parsed
	}

	company := ledger.Company{
		ID:                     file.Company.ID,
		Currency:               file.Company.Currency,
		PartnerID:              file.Company.PartnerID,
		PaymentDebitAccountID:  file.Company.PaymentDebitAccountID,
		PaymentCreditAccountID: file.Company.PaymentCreditAccountID,
	}
	journal := ledger.Journal{ID: file.Journal.ID, Name: file.Journal.Name, Currency: file.Journal.Currency, CompanyID: company.ID}
	method := ledger.PaymentMethodLine{ID: file.PaymentMethod.ID, Name: file.PaymentMethod.Name, PaymentAccountID: file.PaymentMethod.PaymentAccountID}

	batch := &multipay.Batch{
		CompanyID:       company.ID,
		CompanyCurrency: company.Currency,
		CompanyPartner:  company.PartnerID,
		Memo:            file.Memo,
		GroupOverride:   file.Group,
	}
	for idx, fr := range file.Rows {
		row, err := fr.toRow(company.ID)
		if err != nil {
			return Preview{}, fmt.Errorf("preview: row %d: %w", idx+1, err)
		}
		if idx > 0 && row.Direction != batch.Direction {
			return Preview{}, errors.New("preview: rows mix inbound and outbound invoices")
		}
		batch.Direction = row.Direction
		batch.Rows = append(batch.Rows, row)
	}
	batch.SetJournal(journal, method)
	if file.Currency != "" {
		batch.Currency = strings.ToUpper(file.Currency)
	}
	batch.SetPaymentDate(date)
	batch.Recompute()

	calc := multipay.NewCalculator(fx.NewConverter(rates), multipay.StandardWriteOff{}, multipay.NewLabels(file.Locale))
	preview := Preview{Batch: batch}
	for _, group := range batch.Groups() {
		entry := PreviewEntry{
			PartnerID: group.PartnerID,
			Amount:    group.Amount,
			Currency:  multipay.ResolveCurrency(batch.Currency, batch.JournalCurrency, batch.CompanyCurrency),
		}
		for _, row := range group.Rows {
			lines, err := calc.Lines(ctx, multipay.LineContext{Row: row, Company: company, Journal: journal, PaymentMethod: method})
			if err != nil {
				return Preview{}, err
			}
			entry.Lines = append(entry.Lines, lines...)
		}
		preview.Entries = append(preview.Entries, entry)
	}
	return preview, nil
}

func (fr BatchFileRow) toRow(companyID int64) (multipay.Row, error) {
	total, err := decimal.NewFromString(fr.Total)
	if err != nil {
		return multipay.Row{}, fmt.Errorf("total: %w", err)
	}
	amount := total
	if fr.Amount != "" {
		if amount, err = decimal.NewFromString(fr.Amount); err != nil {
			return multipay.Row{}, fmt.Errorf("amount: %w", err)
		}
	}
	if !amount.IsPositive() {
		return multipay.Row{}, errors.New("amount must be positive")
	}
	handling := multipay.DifferenceHandling(fr.Handling)
	if fr.Handling == "" {
		handling = multipay.HandlingOpen
	}
	if !handling.Valid() {
		return multipay.Row{}, fmt.Errorf("unknown handling %q", fr.Handling)
	}
	direction := ledger.Direction(fr.Direction)
	if direction != ledger.DirectionInbound && direction != ledger.DirectionOutbound {
		return multipay.Row{}, fmt.Errorf("unknown direction %q", fr.Direction)
	}
	return multipay.Row{
		ID:                multipay.NewToken(),
		MoveName:          fr.Move,
		CompanyID:         companyID,
		PartnerID:         fr.PartnerID,
		Direction:         direction,
		AccountID:         fr.AccountID,
		Amount:            amount,
		TotalToPay:        total,
		Handling:          handling,
		Communication:     fr.Move,
		WriteOffAccountID: fr.WriteOffAccountID,
		WriteOffLabel:     fr.WriteOffLabel,
	}, nil
}

// WriteText prints the preview as aligned columns.
func (p Preview) WriteText(w io.Writer) error {
	b := p.Batch
	fmt.Fprintf(w, "total %s  residual %s  difference %s  grouped %t\n\n",
		b.AmountTotal.StringFixed(2), b.AmountResidual.StringFixed(2), b.PaymentDifference.StringFixed(2), b.GroupPayment)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for idx, entry := range p.Entries {
		fmt.Fprintf(tw, "entry %d\tpartner %d\t%s %s\t\t\t\n", idx+1, entry.PartnerID, entry.Amount.StringFixed(2), entry.Currency)
		fmt.Fprintln(tw, "  account\tlabel\tdebit\tcredit\tamount_currency\tcorrelation")
		for _, line := range entry.Lines {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\t%s\n",
				line.AccountID, line.Name,
				line.Debit.StringFixed(2), line.Credit.StringFixed(2),
				line.AmountCurrency.StringFixed(2), shortToken(line))
		}
	}
	return tw.Flush()
}

// WriteXLSX exports one sheet row per journal item.
func (p Preview) WriteXLSX(path string) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	const sheet = "Preview"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	header := []any{"Entry", "Partner", "Account", "Label", "Debit", "Credit", "Amount currency", "Currency", "Correlation"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	rowNum := 2
	for idx, entry := range p.Entries {
		for _, line := range entry.Lines {
			cell, err := excelize.CoordinatesToCellName(1, rowNum)
			if err != nil {
				return err
			}
			debit, _ := line.Debit.Float64()
			credit, _ := line.Credit.Float64()
			amount, _ := line.AmountCurrency.Float64()
			values := []any{idx + 1, entry.PartnerID, line.AccountID, line.Name, debit, credit, amount, line.Currency, shortToken(line)}
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				return err
			}
			rowNum++
		}
	}
	return f.SaveAs(path)
}

func shortToken(line ledger.LineInput) string {
	if line.CorrelationID == nil {
		return ""
	}
	return line.CorrelationID.String()[:8]
}

func newPreviewCommand() *cobra.Command {
	var file, xlsxPath string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Compute the entries of a batch payment from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := os.Open(file)
			if err != nil {
				return err
			}
			defer in.Close()
			batchFile, err := LoadBatchFile(in)
			if err != nil {
				return err
			}
			preview, err := BuildPreview(cmd.Context(), batchFile)
			if err != nil {
				return err
			}
			if err := preview.WriteText(cmd.OutOrStdout()); err != nil {
				return err
			}
			if xlsxPath != "" {
				if err := preview.WriteXLSX(xlsxPath); err != nil {
					return fmt.Errorf("preview: write xlsx: %w", err)
				}
				cmd.Printf("\nwritten %s\n", xlsxPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "batch.yaml", "batch definition")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also export the lines to this spreadsheet")
	return cmd
}
