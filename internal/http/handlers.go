package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"condominio/internal/core"
)

const dateLayout = "2006-01-02"

// ---- request/response shapes ----

// Amounts travel as decimal strings ("12.34"); the ledger works in cents.

type periodRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type periodResponse struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
	Status    string  `json:"status"`
	ClosedAt  *string `json:"closed_at,omitempty"`
}

type contributionRequest struct {
	PeriodID int64  `json:"period_id"`
	OwnerID  string `json:"owner_id"`
	Amount   string `json:"amount"`
	Date     string `json:"date"`
	Note     string `json:"note"`
}

type contributionResponse struct {
	ID       int64  `json:"id"`
	PeriodID int64  `json:"period_id"`
	OwnerID  string `json:"owner_id"`
	Amount   string `json:"amount"`
	Date     string `json:"date"`
	Note     string `json:"note,omitempty"`
	Opening  bool   `json:"opening"`
}

type expenseRequest struct {
	PeriodID     int64  `json:"period_id"`
	PayerID      string `json:"payer_id"`
	Amount       string `json:"amount"`
	Category     string `json:"category"`
	Date         string `json:"date"`
	Vendor       string `json:"vendor"`
	Description  string `json:"description"`
	BudgetItemID int64  `json:"budget_item_id,omitempty"`
}

type expenseResponse struct {
	ID           int64  `json:"id"`
	PeriodID     int64  `json:"period_id"`
	PayerID      string `json:"payer_id"`
	Amount       string `json:"amount"`
	Category     string `json:"category"`
	Date         string `json:"date"`
	Vendor       string `json:"vendor,omitempty"`
	Description  string `json:"description,omitempty"`
	BudgetItemID int64  `json:"budget_item_id,omitempty"`
}

type budgetItemRequest struct {
	PeriodID int64  `json:"period_id"`
	Category string `json:"category"`
	Budgeted string `json:"budgeted"`
	Strategy string `json:"strategy"`
}

type budgetItemResponse struct {
	ID       int64  `json:"id"`
	PeriodID int64  `json:"period_id"`
	Category string `json:"category"`
	Budgeted string `json:"budgeted"`
	Strategy string `json:"strategy"`
}

type readingRequest struct {
	PeriodID   int64  `json:"period_id"`
	MeterID    string `json:"meter_id"`
	OwnerID    string `json:"owner_id"`
	StartValue int64  `json:"start_value"`
	EndValue   int64  `json:"end_value"`
}

type readingResponse struct {
	ID          int64  `json:"id"`
	PeriodID    int64  `json:"period_id"`
	MeterID     string `json:"meter_id"`
	OwnerID     string `json:"owner_id"`
	StartValue  int64  `json:"start_value"`
	EndValue    int64  `json:"end_value"`
	Consumption int64  `json:"consumption"`
	Cost        string `json:"cost"`
}

type serviceChargeRequest struct {
	PeriodID    int64  `json:"period_id"`
	OwnerID     string `json:"owner_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type serviceChargeResponse struct {
	ID          int64  `json:"id"`
	PeriodID    int64  `json:"period_id"`
	OwnerID     string `json:"owner_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Opening     bool   `json:"opening"`
}

type balanceRowResponse struct {
	OwnerID       string `json:"owner_id"`
	Contributions string `json:"contributions"`
	Allocated     string `json:"allocated"`
	Direct        string `json:"direct"`
	Balance       string `json:"balance"`
}

type balanceSheetResponse struct {
	PeriodID           int64                `json:"period_id"`
	Rows               []balanceRowResponse `json:"rows"`
	TotalContributions string               `json:"total_contributions"`
	TotalCharges       string               `json:"total_charges"`
	Net                string               `json:"net"`
}

// ---- period handlers ----

func (s *Server) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid start_date")
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid end_date")
		return
	}

	period, err := s.periods.CreatePeriod(r.Context(), req.Name, start, end)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodResponse(period))
}

func (s *Server) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := s.periods.Periods(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]periodResponse, 0, len(periods))
	for _, p := range periods {
		out = append(out, toPeriodResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	period, err := s.periods.Period(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodResponse(period))
}

func (s *Server) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sheet, err := s.periods.ClosePeriod(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceSheetResponse(sheet))
}

func (s *Server) handleReopenPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	period, err := s.periods.ReopenPeriod(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodResponse(period))
}

func (s *Server) handleBalanceSheet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sheet, err := s.periods.BalanceSheet(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceSheetResponse(sheet))
}

// ---- ledger row handlers ----

func (s *Server) handleRecordContribution(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeContribution(w, r, 0)
	if !ok {
		return
	}
	saved, err := s.ledger.RecordContribution(r.Context(), c)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContributionResponse(saved))
}

func (s *Server) handleEditContribution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, ok := decodeContribution(w, r, id)
	if !ok {
		return
	}
	saved, err := s.ledger.EditContribution(r.Context(), c)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContributionResponse(saved))
}

func (s *Server) handleRecordExpense(w http.ResponseWriter, r *http.Request) {
	e, ok := decodeExpense(w, r, 0)
	if !ok {
		return
	}
	saved, err := s.ledger.RecordExpense(r.Context(), e)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseResponse(saved))
}

func (s *Server) handleEditExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, ok := decodeExpense(w, r, id)
	if !ok {
		return
	}
	saved, err := s.ledger.EditExpense(r.Context(), e)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseResponse(saved))
}

func (s *Server) handleCreateBudgetItem(w http.ResponseWriter, r *http.Request) {
	b, ok := decodeBudgetItem(w, r, 0)
	if !ok {
		return
	}
	saved, err := s.ledger.CreateBudgetItem(r.Context(), b)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBudgetItemResponse(saved))
}

func (s *Server) handleEditBudgetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, ok := decodeBudgetItem(w, r, id)
	if !ok {
		return
	}
	saved, err := s.ledger.EditBudgetItem(r.Context(), b)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetItemResponse(saved))
}

func (s *Server) handleRecordReading(w http.ResponseWriter, r *http.Request) {
	reading, ok := decodeReading(w, r, 0)
	if !ok {
		return
	}
	saved, err := s.ledger.RecordReading(r.Context(), reading)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReadingResponse(saved))
}

func (s *Server) handleEditReading(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	reading, ok := decodeReading(w, r, id)
	if !ok {
		return
	}
	saved, err := s.ledger.EditReading(r.Context(), reading)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReadingResponse(saved))
}

func (s *Server) handleRecordServiceCharge(w http.ResponseWriter, r *http.Request) {
	sc, ok := decodeServiceCharge(w, r, 0)
	if !ok {
		return
	}
	saved, err := s.ledger.RecordServiceCharge(r.Context(), sc)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toServiceChargeResponse(saved))
}

func (s *Server) handleEditServiceCharge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sc, ok := decodeServiceCharge(w, r, id)
	if !ok {
		return
	}
	saved, err := s.ledger.EditServiceCharge(r.Context(), sc)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toServiceChargeResponse(saved))
}

// ---- decoding ----

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func parseDate(s string) (core.Date, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return core.Date{}, err
	}
	return core.Date{Time: t}, nil
}

func parseAmount(w http.ResponseWriter, s string) (core.Money, bool) {
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid amount")
		return core.Money{}, false
	}
	return core.Money{Cents: cents}, true
}

func decodeContribution(w http.ResponseWriter, r *http.Request, id int64) (core.Contribution, bool) {
	var req contributionRequest
	if !decodeBody(w, r, &req) {
		return core.Contribution{}, false
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return core.Contribution{}, false
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid date")
		return core.Contribution{}, false
	}
	return core.Contribution{
		ID:       id,
		PeriodID: req.PeriodID,
		OwnerID:  req.OwnerID,
		Amount:   amount,
		Date:     date,
		Note:     req.Note,
	}, true
}

func decodeExpense(w http.ResponseWriter, r *http.Request, id int64) (core.Expense, bool) {
	var req expenseRequest
	if !decodeBody(w, r, &req) {
		return core.Expense{}, false
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return core.Expense{}, false
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid date")
		return core.Expense{}, false
	}
	return core.Expense{
		ID:           id,
		PeriodID:     req.PeriodID,
		PayerID:      req.PayerID,
		Amount:       amount,
		Category:     req.Category,
		Date:         date,
		Vendor:       req.Vendor,
		Description:  req.Description,
		BudgetItemID: req.BudgetItemID,
	}, true
}

func decodeBudgetItem(w http.ResponseWriter, r *http.Request, id int64) (core.BudgetItem, bool) {
	var req budgetItemRequest
	if !decodeBody(w, r, &req) {
		return core.BudgetItem{}, false
	}
	budgeted, ok := parseAmount(w, req.Budgeted)
	if !ok {
		return core.BudgetItem{}, false
	}
	return core.BudgetItem{
		ID:       id,
		PeriodID: req.PeriodID,
		Category: req.Category,
		Budgeted: budgeted,
		Strategy: core.Strategy(req.Strategy),
	}, true
}

func decodeReading(w http.ResponseWriter, r *http.Request, id int64) (core.UtilityReading, bool) {
	var req readingRequest
	if !decodeBody(w, r, &req) {
		return core.UtilityReading{}, false
	}
	return core.UtilityReading{
		ID:         id,
		PeriodID:   req.PeriodID,
		MeterID:    req.MeterID,
		OwnerID:    req.OwnerID,
		StartValue: req.StartValue,
		EndValue:   req.EndValue,
	}, true
}

func decodeServiceCharge(w http.ResponseWriter, r *http.Request, id int64) (core.ServiceCharge, bool) {
	var req serviceChargeRequest
	if !decodeBody(w, r, &req) {
		return core.ServiceCharge{}, false
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return core.ServiceCharge{}, false
	}
	return core.ServiceCharge{
		ID:          id,
		PeriodID:    req.PeriodID,
		OwnerID:     req.OwnerID,
		Amount:      amount,
		Description: req.Description,
	}, true
}

// ---- encoding ----

func toPeriodResponse(p core.Period) periodResponse {
	resp := periodResponse{
		ID:        p.ID,
		Name:      p.Name,
		StartDate: p.StartDate.Format(dateLayout),
		EndDate:   p.EndDate.Format(dateLayout),
		Status:    string(p.Status),
	}
	if p.ClosedAt != nil {
		s := p.ClosedAt.Format(time.RFC3339)
		resp.ClosedAt = &s
	}
	return resp
}

func toContributionResponse(c core.Contribution) contributionResponse {
	return contributionResponse{
		ID:       c.ID,
		PeriodID: c.PeriodID,
		OwnerID:  c.OwnerID,
		Amount:   c.Amount.String(),
		Date:     c.Date.Format(dateLayout),
		Note:     c.Note,
		Opening:  c.Opening,
	}
}

func toExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:           e.ID,
		PeriodID:     e.PeriodID,
		PayerID:      e.PayerID,
		Amount:       e.Amount.String(),
		Category:     e.Category,
		Date:         e.Date.Format(dateLayout),
		Vendor:       e.Vendor,
		Description:  e.Description,
		BudgetItemID: e.BudgetItemID,
	}
}

func toBudgetItemResponse(b core.BudgetItem) budgetItemResponse {
	return budgetItemResponse{
		ID:       b.ID,
		PeriodID: b.PeriodID,
		Category: b.Category,
		Budgeted: b.Budgeted.String(),
		Strategy: string(b.Strategy),
	}
}

func toReadingResponse(r core.UtilityReading) readingResponse {
	return readingResponse{
		ID:          r.ID,
		PeriodID:    r.PeriodID,
		MeterID:     r.MeterID,
		OwnerID:     r.OwnerID,
		StartValue:  r.StartValue,
		EndValue:    r.EndValue,
		Consumption: r.Consumption(),
		Cost:        r.Cost.String(),
	}
}

func toServiceChargeResponse(sc core.ServiceCharge) serviceChargeResponse {
	return serviceChargeResponse{
		ID:          sc.ID,
		PeriodID:    sc.PeriodID,
		OwnerID:     sc.OwnerID,
		Amount:      sc.Amount.String(),
		Description: sc.Description,
		Opening:     sc.Opening,
	}
}

func toBalanceSheetResponse(sheet *core.BalanceSheet) balanceSheetResponse {
	rows := make([]balanceRowResponse, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, balanceRowResponse{
			OwnerID:       row.OwnerID,
			Contributions: row.Contributions.String(),
			Allocated:     row.Allocated.String(),
			Direct:        row.Direct.String(),
			Balance:       row.Balance.String(),
		})
	}
	return balanceSheetResponse{
		PeriodID:           sheet.PeriodID,
		Rows:               rows,
		TotalContributions: sheet.TotalContributions.String(),
		TotalCharges:       sheet.TotalCharges.String(),
		Net:                sheet.Net.String(),
	}
}

// ---- error mapping ----

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps domain errors to HTTP status codes. Conflicts are
// state problems (closed period, duplicate name, missing consumption data);
// unprocessable means the row itself is bad.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrPeriodNotFound), errors.Is(err, core.ErrRowNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrDuplicatePeriod),
		errors.Is(err, core.ErrPeriodClosed),
		errors.Is(err, core.ErrPeriodNotOpen),
		errors.Is(err, core.ErrPeriodNotClosed),
		errors.Is(err, core.ErrBudgetItemPeriod),
		errors.Is(err, core.ErrNoConsumptionData),
		errors.Is(err, core.ErrNoShareWeight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrUnknownOwner),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidRange),
		errors.Is(err, core.ErrInvalidReading),
		errors.Is(err, core.ErrInvalidStrategy),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrEmptyDescription):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Unhandled error", "error", err, "url", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
