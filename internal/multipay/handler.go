package multipay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/multipay/internal/ledger"
	"github.com/odyssey-erp/multipay/internal/platform/httpx"
	"github.com/odyssey-erp/multipay/internal/shared"
)

// IdempotencyHeader is the optional request header deduplicating confirmations.
const IdempotencyHeader = "Idempotency-Key"

const idempotencyModule = "multipay.confirm"

// IdempotencyPort records processed confirmation keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the batch payment wizard over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	idem      IdempotencyPort
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idem: idem, validator: validator.New()}
}

// MountRoutes registers the multipay routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/outstanding", h.listOutstanding)
	r.Post("/wizards", h.openWizard)
	r.Route("/wizards/{id}", func(r chi.Router) {
		r.Get("/", h.getWizard)
		r.Patch("/", h.updateWizard)
		r.Delete("/", h.cancelWizard)
		r.Post("/confirm", h.confirm)
	})
	r.Get("/moves/{id}", h.getMove)
}

type outstandingQuery struct {
	CompanyID int64  `validate:"required,gt=0"`
	Direction string `validate:"omitempty,oneof=inbound outbound"`
	PartnerID int64  `validate:"gte=0"`
	Limit     int    `validate:"gte=0,lte=1000"`
}

type openRequest struct {
	MoveIDs   []int64 `json:"move_ids" validate:"required,min=1,unique,dive,gt=0"`
	CompanyID int64   `json:"company_id" validate:"gte=0"`
}

type rowPatchRequest struct {
	ID                string           `json:"id" validate:"required,uuid"`
	Amount            *decimal.Decimal `json:"amount"`
	Handling          *string          `json:"handling" validate:"omitempty,oneof=open reconcile"`
	Communication     *string          `json:"communication" validate:"omitempty,max=255"`
	WriteOffAccountID *int64           `json:"write_off_account_id" validate:"omitempty,gt=0"`
	WriteOffLabel     *string          `json:"write_off_label" validate:"omitempty,max=128"`
}

type patchRequest struct {
	JournalID           *int64            `json:"journal_id" validate:"omitempty,gt=0"`
	PaymentMethodLineID *int64            `json:"payment_method_line_id" validate:"omitempty,gt=0"`
	PaymentDate         *string           `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Memo                *string           `json:"memo" validate:"omitempty,max=255"`
	Currency            *string           `json:"currency" validate:"omitempty,len=3,alpha"`
	GroupPayment        *bool             `json:"group_payment"`
	EDIUsage            *string           `json:"edi_usage" validate:"omitempty,max=8"`
	EDIPaymentMethodID  *int64            `json:"edi_payment_method_id" validate:"omitempty,gt=0"`
	Rows                []rowPatchRequest `json:"rows" validate:"dive"`
}

func (p patchRequest) toPatch() (Patch, error) {
	patch := Patch{
		JournalID:           p.JournalID,
		PaymentMethodLineID: p.PaymentMethodLineID,
		Memo:                p.Memo,
		Currency:            p.Currency,
		GroupPayment:        p.GroupPayment,
		EDIUsage:            p.EDIUsage,
		EDIPaymentMethodID:  p.EDIPaymentMethodID,
	}
	if p.PaymentDate != nil {
		date, err := time.Parse("2006-01-02", *p.PaymentDate)
		if err != nil {
			return Patch{}, err
		}
		patch.PaymentDate = &date
	}
	for _, rr := range p.Rows {
		id, err := uuid.Parse(rr.ID)
		if err != nil {
			return Patch{}, err
		}
		rp := RowPatch{
			ID:                id,
			Amount:            rr.Amount,
			Communication:     rr.Communication,
			WriteOffAccountID: rr.WriteOffAccountID,
			WriteOffLabel:     rr.WriteOffLabel,
		}
		if rr.Handling != nil {
			handling := DifferenceHandling(*rr.Handling)
			rp.Handling = &handling
		}
		patch.Rows = append(patch.Rows, rp)
	}
	return patch, nil
}

func (h *Handler) listOutstanding(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := outstandingQuery{Direction: q.Get("direction")}
	var err error
	if query.CompanyID, err = parseOptionalInt(q.Get("company_id")); err != nil {
		h.badRequest(w, "company_id must be numeric")
		return
	}
	if query.PartnerID, err = parseOptionalInt(q.Get("partner_id")); err != nil {
		h.badRequest(w, "partner_id must be numeric")
		return
	}
	limit, err := parseOptionalInt(q.Get("limit"))
	if err != nil {
		h.badRequest(w, "limit must be numeric")
		return
	}
	query.Limit = int(limit)
	if !h.validate(w, query) {
		return
	}
	moves, err := h.service.ListOutstanding(r.Context(), ledger.OutstandingFilter{
		CompanyID: query.CompanyID,
		Direction: ledger.Direction(query.Direction),
		PartnerID: query.PartnerID,
		Limit:     query.Limit,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]moveResponse, 0, len(moves))
	for _, m := range moves {
		out = append(out, toMoveResponse(m))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) openWizard(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.badRequest(w, "invalid JSON body")
		return
	}
	if !h.validate(w, req) {
		return
	}
	wizard, err := h.service.OpenWizard(r.Context(), OpenInput{
		MoveIDs:   req.MoveIDs,
		CompanyID: req.CompanyID,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, wizard)
}

func (h *Handler) getWizard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.wizardID(w, r)
	if !ok {
		return
	}
	wizard, err := h.service.GetWizard(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wizard)
}

func (h *Handler) updateWizard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.wizardID(w, r)
	if !ok {
		return
	}
	var req patchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.badRequest(w, "invalid JSON body")
		return
	}
	if !h.validate(w, req) {
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	wizard, err := h.service.UpdateWizard(r.Context(), id, patch)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wizard)
}

func (h *Handler) cancelWizard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.wizardID(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelWizard(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.wizardID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	key := r.Header.Get(IdempotencyHeader)
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				err = ErrAlreadyConfirmed
			}
			h.respondError(w, r, err)
			return
		}
	}
	action, err := h.service.Confirm(ctx, id, shared.ActorFromContext(ctx))
	if err != nil {
		if key != "" && h.idem != nil {
			if delErr := h.idem.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, action)
}

func (h *Handler) getMove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, "invalid move id")
		return
	}
	move, err := h.service.GetMove(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMoveResponse(move))
}

func (h *Handler) wizardID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.badRequest(w, "invalid wizard id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) validate(w http.ResponseWriter, v any) bool {
	err := h.validator.Struct(v)
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		h.badRequest(w, err.Error())
		return false
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		fields[fieldErr.Namespace()] = fieldErr.Tag()
	}
	httpx.FieldProblem(w, fields)
	return false
}

func (h *Handler) badRequest(w http.ResponseWriter, detail string) {
	httpx.Problem(w, http.StatusBadRequest, "Bad Request", detail)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ledger.ErrMoveNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error("multipay request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseOptionalInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

type lineResponse struct {
	ID             int64           `json:"id"`
	AccountID      int64           `json:"account_id"`
	PartnerID      int64           `json:"partner_id,omitempty"`
	Name           string          `json:"name,omitempty"`
	Currency       string          `json:"currency"`
	AmountCurrency decimal.Decimal `json:"amount_currency"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	AmountResidual decimal.Decimal `json:"amount_residual"`
	Reconciled     bool            `json:"reconciled"`
	CorrelationID  *uuid.UUID      `json:"correlation_id,omitempty"`
}

type moveResponse struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Ref            string          `json:"ref,omitempty"`
	CompanyID      int64           `json:"company_id"`
	JournalID      int64           `json:"journal_id"`
	PartnerID      int64           `json:"partner_id,omitempty"`
	Date           string          `json:"date"`
	State          string          `json:"state"`
	MoveType       string          `json:"move_type"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	IsBatchPayment bool            `json:"is_batch_payment"`
	Lines          []lineResponse  `json:"lines"`
}

func toMoveResponse(m ledger.Move) moveResponse {
	resp := moveResponse{
		ID:             m.ID,
		Name:           m.Name,
		Ref:            m.Ref,
		CompanyID:      m.CompanyID,
		JournalID:      m.JournalID,
		PartnerID:      m.PartnerID,
		Date:           m.Date.Format("2006-01-02"),
		State:          string(m.State),
		MoveType:       string(m.Type),
		Currency:       m.Currency,
		Amount:         m.Amount,
		IsBatchPayment: m.IsBatchPayment(),
		Lines:          make([]lineResponse, 0, len(m.Lines)),
	}
	for _, l := range m.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:             l.ID,
			AccountID:      l.AccountID,
			PartnerID:      l.PartnerID,
			Name:           l.Name,
			Currency:       l.Currency,
			AmountCurrency: l.AmountCurrency,
			Debit:          l.Debit,
			Credit:         l.Credit,
			AmountResidual: l.AmountResidual,
			Reconciled:     l.Reconciled,
			CorrelationID:  l.CorrelationID,
		})
	}
	return resp
}
