package dashboard

import (
	"errors"
	"net/http"

	"github.com/zidewell/zidwell-team-sub000/internal/store"
	"github.com/zidewell/zidwell-team-sub000/internal/withdrawal"
	"github.com/zidewell/zidwell-team-sub000/pkg/utils"
)

func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Withdrawal retrieved", sess.Withdrawal.Snapshot())
}

func (h *Handler) ListBanks(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	banks, err := sess.Withdrawal.Banks(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Banks retrieved", banks)
}

type SelectModeRequest struct {
	Mode withdrawal.Mode `json:"mode"`
}

func (h *Handler) SelectWithdrawalMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	var req SelectModeRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	snap, err := sess.Withdrawal.SelectMode(req.Mode)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Withdrawal mode selected", snap)
}

func (h *Handler) UpdateWithdrawal(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	var patch withdrawal.Patch
	if status, err := utils.DecodeJSONBody(w, r, &patch); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	snap, err := sess.Withdrawal.Update(patch)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Withdrawal updated", snap)
}

func (h *Handler) SubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	snap, err := sess.Withdrawal.Submit(r.Context())
	if err != nil {
		var validation *withdrawal.ValidationError
		switch {
		case errors.Is(err, withdrawal.ErrSubmissionInFlight), errors.Is(err, store.ErrNoSession):
			writeError(w, err, nil)
		case errors.As(err, &validation):
			utils.BuildErrorResponse(w, http.StatusUnprocessableEntity, "Withdrawal is not ready to submit", snap)
		default:
			// The form is kept as entered so the user can correct and retry.
			utils.BuildErrorResponse(w, http.StatusBadGateway, snap.Message, snap)
		}
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, snap.Message, snap)
}
