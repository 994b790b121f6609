package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/staffLoan/pkg/ledger"
	"github.com/mcclellann/staffLoan/pkg/models"
	"github.com/mcclellann/staffLoan/pkg/period"
	"github.com/mcclellann/staffLoan/pkg/store"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	now     func() time.Time
}

func NewServer(s store.Storage, opts ...ledger.Option) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, opts...),
		storage: s,
		now:     time.Now,
	}
}

// Routes registers every endpoint on a new router.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.healthHandler).Methods("GET")
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/preview", s.previewLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/cancel", s.cancelLoanHandler).Methods("POST")
	router.HandleFunc("/periods/current", s.currentPeriodHandler).Methods("GET")
	router.HandleFunc("/periods/{period}/deductions", s.periodDeductionsHandler).Methods("GET")

	return router
}

// loanResponse adds the figures a dashboard shows next to a loan.
type loanResponse struct {
	*models.Loan
	PaidAmount    int64           `json:"paid_amount"`
	NextDeduction int64           `json:"next_deduction"`
	Progress      decimal.Decimal `json:"progress"`
}

func newLoanResponse(loan *models.Loan) loanResponse {
	return loanResponse{
		Loan:          loan,
		PaidAmount:    loan.PaidAmount(),
		NextDeduction: loan.NextDeduction(),
		Progress:      loan.Progress(),
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID        string `json:"user_id"`
		BranchID      string `json:"branch_id"`
		Amount        int64  `json:"amount"`
		WeeklyPayment int64  `json:"weekly_payment"`
		StartDate     string `json:"start_date"`
		ApplyInterest *bool  `json:"apply_interest"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.CreateLoan(ledger.CreateLoanInput{
		UserID:        req.UserID,
		BranchID:      req.BranchID,
		Amount:        req.Amount,
		WeeklyPayment: req.WeeklyPayment,
		StartDate:     req.StartDate,
		ApplyInterest: req.ApplyInterest,
	})
	if err != nil {
		writeError(w, "create loan", err)
		return
	}

	writeJSON(w, http.StatusCreated, newLoanResponse(loan))
}

func (s *Server) previewLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount        int64 `json:"amount"`
		WeeklyPayment int64 `json:"weekly_payment"`
		ApplyInterest *bool `json:"apply_interest"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	terms, err := ledger.CalculateTerms(req.Amount, req.WeeklyPayment, req.ApplyInterest)
	if err != nil {
		writeError(w, "preview loan", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ledger.Terms
		ExceedsLimit bool `json:"exceeds_limit"`
	}{terms, req.Amount > s.ledger.MaxLoanAmount()})
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		writeError(w, "get loan", err)
		return
	}

	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.LoanFilter{
		BranchID: q.Get("branch_id"),
		UserID:   q.Get("user_id"),
		Status:   models.LoanStatus(q.Get("status")),
	}

	loans, err := s.ledger.ListLoans(filter)
	if err != nil {
		writeError(w, "list loans", err)
		return
	}

	resp := make([]loanResponse, len(loans))
	for i, loan := range loans {
		resp[i] = newLoanResponse(loan)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount          int64   `json:"amount"`
		Date            string  `json:"date"`
		Period          string  `json:"period"`
		PayrollRecordID *string `json:"payroll_record_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		loan *models.Loan
		err  error
	)
	if req.PayrollRecordID != nil {
		loan, err = s.ledger.RecordPayrollDeduction(loanID, *req.PayrollRecordID, req.Amount, req.Date, req.Period)
	} else {
		loan, err = s.ledger.RecordPayment(loanID, req.Amount, req.Date, req.Period)
	}
	if err != nil {
		writeError(w, "record payment", err)
		return
	}

	writeJSON(w, http.StatusCreated, newLoanResponse(loan))
}

func (s *Server) cancelLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFromRequest(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.CancelLoan(loanID)
	if err != nil {
		writeError(w, "cancel loan", err)
		return
	}

	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

func (s *Server) currentPeriodHandler(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	label := period.Current(now)
	start, _ := period.Start(label)

	writeJSON(w, http.StatusOK, map[string]string{
		"period":     label,
		"start_date": start.Format(period.DateLayout),
		"today":      now.Format(period.DateLayout),
	})
}

func (s *Server) periodDeductionsHandler(w http.ResponseWriter, r *http.Request) {
	label := mux.Vars(r)["period"]

	result, err := s.ledger.PeriodDeductions(label, r.URL.Query().Get("branch_id"))
	if err != nil {
		writeError(w, "period deductions", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func loanIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return loanID, true
}

// writeError maps ledger error kinds to status codes.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrNotFound):
		http.Error(w, "Loan not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrLimitExceeded):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		log.Error().Err(err).Str("op", op).Msg("Request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
