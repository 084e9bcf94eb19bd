package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"pactum/escrow"
)

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.toEngine()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.engine.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/escrows/"+acc.ID)
	s.writeJSON(w, http.StatusCreated, newAccountView(acc))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	acc, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.engine.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newBalanceView(balance))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.NotFound(w, r)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.engine.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.events.Events(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, evt := range events {
		out = append(out, eventView{Type: evt.Type, Status: evt.Status, Attributes: evt.Attributes, OccurredAt: evt.OccurredAt})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "events": out})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ins, err := s.engine.Deposit(r.Context(), chi.URLParam(r, "id"), escrow.DepositRequest{
		Method: req.PaymentMethod,
		Payer:  req.Payer,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newInstructionView(ins))
}

func (s *Server) handleConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	var req confirmDepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := escrow.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.engine.ConfirmDeposit(r.Context(), chi.URLParam(r, "id"), amount, req.Reference)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (s *Server) handleSyncSettlement(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.engine.SyncSettlement(r.Context(), chi.URLParam(r, "id"), req.Reference)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	splits, err := toShares(req.Splits)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Release(r.Context(), chi.URLParam(r, "id"), escrow.ReleaseRequest{
		ApprovedBy: req.ApprovedBy,
		Splits:     splits,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newReleaseView(res))
}

func (s *Server) handleReleasePartial(w http.ResponseWriter, r *http.Request) {
	var req partialReleaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := escrow.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	splits, err := toShares(req.Splits)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.ReleasePartial(r.Context(), chi.URLParam(r, "id"), escrow.PartialReleaseRequest{
		Amount:     amount,
		Milestone:  req.Milestone,
		ApprovedBy: req.ApprovedBy,
		Splits:     splits,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newReleaseView(res))
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Refund(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, refundView{
		AccountID:      res.AccountID,
		AmountRefunded: money(res.AmountRefunded),
		Status:         res.Status,
		Reason:         res.Reason,
	})
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	var req freezeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.engine.Freeze(r.Context(), chi.URLParam(r, "id"), req.DisputeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (s *Server) handleFee(w http.ResponseWriter, r *http.Request) {
	amount, err := escrow.ParseAmount(strings.TrimSpace(r.URL.Query().Get("amount")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if amount.IsNegative() {
		s.writeError(w, r, escrowInvalid("amount must not be negative"))
		return
	}
	cfg := s.engine.Config()
	fee := s.engine.CalculateFee(amount)
	s.writeJSON(w, http.StatusOK, feeView{
		Amount:      money(amount),
		FeePercent:  cfg.FeePercent.String(),
		PlatformFee: money(fee),
		NetAmount:   money(amount.Sub(fee)),
		Currency:    cfg.Currency,
	})
}
