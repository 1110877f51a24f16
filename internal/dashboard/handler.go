// Package dashboard exposes the session operations over JSON HTTP.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/zidewell/zidwell-team-sub000/internal/auth"
	"github.com/zidewell/zidwell-team-sub000/internal/ledger"
	"github.com/zidewell/zidwell-team-sub000/internal/notification"
	"github.com/zidewell/zidwell-team-sub000/internal/session"
	"github.com/zidewell/zidwell-team-sub000/internal/store"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
	"github.com/zidewell/zidwell-team-sub000/internal/withdrawal"
	"github.com/zidewell/zidwell-team-sub000/pkg/apiclient"
	"github.com/zidewell/zidwell-team-sub000/pkg/config"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
	"github.com/zidewell/zidwell-team-sub000/pkg/utils"
)

type Sessions interface {
	Open(ctx context.Context, identity wallet.SessionIdentity) (*session.Session, error)
	Get(userID string) (*session.Session, error)
	Close(userID string) bool
}

type Handler struct {
	Config   config.Config
	Sessions Sessions
}

func NewHandler(cfg config.Config, sessions Sessions) *Handler {
	return &Handler{Config: cfg, Sessions: sessions}
}

// current returns the caller's open session, writing the error response
// itself when there is none.
func (h *Handler) current(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		utils.BuildErrorResponse(w, http.StatusUnauthorized, "Unauthorized", nil)
		return nil, false
	}

	sess, err := h.Sessions.Get(identity.UserID)
	if err == nil && sess.Identity != identity {
		err = session.ErrNotFound
	}
	if err != nil {
		writeError(w, err, nil)
		return nil, false
	}
	return sess, true
}

type Overview struct {
	SessionID     string                 `json:"sessionId"`
	Identity      wallet.SessionIdentity `json:"identity"`
	Balance       BalanceView            `json:"balance"`
	UnreadCount   int                    `json:"unreadCount"`
	Transactions  ledger.Page            `json:"transactions"`
	ProfileLoaded bool                   `json:"profileLoaded"`
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		utils.BuildErrorResponse(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	sess, err := h.Sessions.Open(r.Context(), identity)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	utils.BuildSuccessResponse(w, http.StatusOK, "Session opened", Overview{
		SessionID:     sess.ID,
		Identity:      sess.Identity,
		Balance:       balanceView(sess.Store.Balance()),
		UnreadCount:   sess.Notifications.UnreadCount(),
		Transactions:  sess.Ledger.Current(),
		ProfileLoaded: sess.Store.Profile().Loaded,
	})
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		utils.BuildErrorResponse(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	if !h.Sessions.Close(identity.UserID) {
		writeError(w, session.ErrNotFound, nil)
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Logged out", nil)
}

type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	var req VisibilityRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}

	polled, err := sess.Notifications.SetVisible(r.Context(), req.Visible)
	if err != nil {
		// The cached list is still served; the poll error rides along.
		logger.Warn("Visibility poll failed", logger.Merge(logger.Fields{logger.SessionKey: sess.ID}, logger.WithError(err)))
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Visibility updated", map[string]interface{}{
		"visible":     req.Visible,
		"polled":      polled,
		"unreadCount": sess.Notifications.UnreadCount(),
	})
}

type BalanceView struct {
	Current          string    `json:"current"`
	CurrentKobo      int64     `json:"currentKobo"`
	LifetimeInflow   string    `json:"lifetimeInflow"`
	LifetimeOutflow  string    `json:"lifetimeOutflow"`
	TransactionCount int       `json:"transactionCount"`
	Loaded           bool      `json:"loaded"`
	Stale            bool      `json:"stale"`
	Refreshing       bool      `json:"refreshing"`
	Error            string    `json:"error,omitempty"`
	FetchedAt        time.Time `json:"fetchedAt"`
}

func balanceView(s store.Snapshot[wallet.Balance]) BalanceView {
	return BalanceView{
		Current:          s.Value.Current.String(),
		CurrentKobo:      int64(s.Value.Current),
		LifetimeInflow:   s.Value.LifetimeInflow.String(),
		LifetimeOutflow:  s.Value.LifetimeOutflow.String(),
		TransactionCount: s.Value.TransactionCount,
		Loaded:           s.Loaded,
		Stale:            s.Stale,
		Refreshing:       s.Refreshing,
		Error:            s.ErrorMessage(),
		FetchedAt:        s.FetchedAt,
	}
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	if fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh")); fresh {
		if err := sess.Store.RefreshBalance(r.Context()); err != nil {
			writeError(w, err, balanceView(sess.Store.Balance()))
			return
		}
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Balance retrieved", balanceView(sess.Store.Balance()))
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	q, err := parseQuery(r, sess.Ledger.Location())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	page, err := sess.Ledger.SetQuery(q)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Transactions retrieved", page)
}

func parseQuery(r *http.Request, loc *time.Location) (ledger.Query, error) {
	params := r.URL.Query()
	q := ledger.Query{
		Status:   params.Get("status"),
		Search:   params.Get("search"),
		Duration: ledger.Duration(params.Get("duration")),
	}

	var err error
	if raw := params.Get("from"); raw != "" {
		if q.From, err = ledger.ParseDate(raw, loc); err != nil {
			return ledger.Query{}, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	if raw := params.Get("to"); raw != "" {
		if q.To, err = ledger.ParseDate(raw, loc); err != nil {
			return ledger.Query{}, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	return q, nil
}

func (h *Handler) LoadMoreTransactions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Transactions retrieved", sess.Ledger.LoadMore())
}

func (h *Handler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	format := ledger.Format(r.URL.Query().Get("format"))
	doc, err := sess.Export(r.Context(), format)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeDocument(w, doc, format == ledger.FormatPrint)
}

type StatementRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	var req StatementRequest
	if status, err := utils.DecodeJSONBody(w, r, &req); err != nil {
		utils.BuildErrorResponse(w, status, "Invalid request", map[string]string{"error": err.Error()})
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, ledger.ErrMissingRange, nil)
		return
	}

	loc := sess.Ledger.Location()
	from, err := ledger.ParseDate(req.From, loc)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err), nil)
		return
	}
	to, err := ledger.ParseDate(req.To, loc)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err), nil)
		return
	}

	doc, err := sess.Statement(r.Context(), from, to)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeDocument(w, doc, false)
}

func writeDocument(w http.ResponseWriter, doc ledger.Document, inline bool) {
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, doc.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(doc.Body)
}

type NotificationView struct {
	wallet.Notification
	State notification.ReadState `json:"state"`
}

type NotificationsResponse struct {
	Notifications []NotificationView `json:"notifications"`
	UnreadCount   int                `json:"unreadCount"`
	Loaded        bool               `json:"loaded"`
	Stale         bool               `json:"stale"`
	Error         string             `json:"error,omitempty"`
}

func notificationsResponse(sess *session.Session) NotificationsResponse {
	snap := sess.Store.Notifications()
	views := make([]NotificationView, 0, len(snap.Value))
	for _, n := range snap.Value {
		state, err := sess.Notifications.State(n.ID)
		if err != nil {
			// Dropped by a concurrent refetch; fall back to the list's own view.
			state = notification.StateUnread
			if n.IsRead() {
				state = notification.StateReadConfirmed
			}
		}
		views = append(views, NotificationView{Notification: n, State: state})
	}
	return NotificationsResponse{
		Notifications: views,
		UnreadCount:   wallet.UnreadCount(snap.Value),
		Loaded:        snap.Loaded,
		Stale:         snap.Stale,
		Error:         snap.ErrorMessage(),
	}
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Notifications retrieved", notificationsResponse(sess))
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	if err := sess.Notifications.MarkRead(r.Context(), id); err != nil {
		writeError(w, err, nil)
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "Notification marked as read", notificationsResponse(sess))
}

func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.current(w, r)
	if !ok {
		return
	}

	if err := sess.Notifications.MarkAllRead(r.Context()); err != nil {
		writeError(w, err, nil)
		return
	}
	utils.BuildSuccessResponse(w, http.StatusOK, "All notifications marked as read", notificationsResponse(sess))
}

var errBadRequest = errors.New("invalid request")

// writeError maps domain errors onto the response envelope. data is sent as
// the errors payload when the error itself carries none.
func writeError(w http.ResponseWriter, err error, data interface{}) {
	var validation *withdrawal.ValidationError
	var apiErr *apiclient.APIError

	switch {
	case errors.As(err, &validation):
		utils.BuildErrorResponse(w, http.StatusUnprocessableEntity, "Withdrawal is not ready to submit", validation.Fields)
	case errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrNoSession):
		utils.BuildErrorResponse(w, http.StatusNotFound, "No open session, open one first", data)
	case errors.Is(err, notification.ErrNotFound):
		utils.BuildErrorResponse(w, http.StatusNotFound, "Notification not found", data)
	case errors.Is(err, withdrawal.ErrSubmissionInFlight),
		errors.Is(err, store.ErrSuperseded),
		errors.Is(err, session.ErrClosedWhileOpening):
		utils.BuildErrorResponse(w, http.StatusConflict, err.Error(), data)
	case errors.Is(err, errBadRequest),
		errors.Is(err, ledger.ErrInvalidRange),
		errors.Is(err, ledger.ErrMissingRange),
		errors.Is(err, ledger.ErrUnknownDuration),
		errors.Is(err, ledger.ErrUnknownFormat),
		errors.Is(err, withdrawal.ErrNoMode),
		errors.Is(err, withdrawal.ErrInvalidMode),
		errors.Is(err, withdrawal.ErrFieldNotInMode),
		errors.Is(err, withdrawal.ErrNoBankDetails):
		utils.BuildErrorResponse(w, http.StatusBadRequest, err.Error(), data)
	case errors.As(err, &apiErr):
		// Business rejections are shown to the user as the server phrased them.
		msg := apiErr.Message
		if msg == "" {
			msg = "Upstream service error"
		}
		utils.BuildErrorResponse(w, http.StatusBadGateway, msg, data)
	case errors.Is(err, ledger.ErrEmptyDocument):
		utils.BuildErrorResponse(w, http.StatusBadGateway, "Document could not be generated", data)
	case errors.Is(err, context.DeadlineExceeded):
		utils.BuildErrorResponse(w, http.StatusGatewayTimeout, "Upstream service timed out", data)
	default:
		logger.Error("Unhandled dashboard error", logger.WithError(err))
		utils.BuildErrorResponse(w, http.StatusInternalServerError, "Internal server error", data)
	}
}
