// Package withdrawal drives the withdrawal form: mode selection, destination
// lookups, validation and a single-shot submission.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/zidewell/zidwell-team-sub000/internal/backend"
	"github.com/zidewell/zidwell-team-sub000/internal/lookup"
	"github.com/zidewell/zidwell-team-sub000/internal/store"
	"github.com/zidewell/zidwell-team-sub000/internal/user"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
	"github.com/zidewell/zidwell-team-sub000/pkg/apiclient"
	"github.com/zidewell/zidwell-team-sub000/pkg/id"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
)

var (
	ErrSubmissionInFlight = errors.New("a withdrawal is already being submitted")
	ErrNotReady           = errors.New("withdrawal is not ready to submit")
	ErrNoMode             = errors.New("select a withdrawal mode")
	ErrInvalidMode        = errors.New("unknown withdrawal mode")
	ErrFieldNotInMode     = errors.New("field does not apply to the selected mode")
	ErrNoBankDetails      = errors.New("add your bank details to your profile to withdraw to your own account")
)

type State string

const (
	StateModeSelect     State = "mode-select"
	StateFieldEntry     State = "field-entry"
	StateLookupInFlight State = "lookup-in-flight"
	StateReadyToSubmit  State = "ready-to-submit"
	StateSubmitting     State = "submitting"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
	StateBlocked        State = "blocked"
)

// ValidationError lists every field that keeps the form from submitting.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "withdrawal is not ready: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrNotReady }

// Session is what the orchestrator needs from the financial state store.
type Session interface {
	Identity() (wallet.SessionIdentity, bool)
	Profile() store.Snapshot[user.Profile]
	InvalidateBalance()
	InvalidateTransactions()
}

type Lookup interface {
	ResolveBankAccount(ctx context.Context, bankCode, accountNumber string) (string, error)
	ResolveHandle(ctx context.Context, handle string) (lookup.Recipient, error)
}

type Backend interface {
	SubmitWithdrawal(ctx context.Context, p backend.WithdrawalPayload) error
	ListBanks(ctx context.Context) ([]user.Bank, error)
}

type Options struct {
	BankDebounce       time.Duration
	P2PDebounce        time.Duration
	LookupTimeout      time.Duration
	NarrationMaxLength int
}

// Patch carries the fields a form edit changes; nil means unchanged.
type Patch struct {
	Amount        *string `json:"amount"`
	Narration     *string `json:"narration"`
	BankCode      *string `json:"bank_code"`
	AccountNumber *string `json:"account_number"`
	Recipient     *string `json:"recipient"`
}

type LookupView struct {
	InFlight bool   `json:"inFlight"`
	Name     string `json:"name,omitempty"`
	WalletID string `json:"walletId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Snapshot is the orchestrator as a form renders it.
type Snapshot struct {
	Mode          Mode              `json:"mode,omitempty"`
	State         State             `json:"state"`
	Amount        string            `json:"amount"`
	Narration     string            `json:"narration"`
	BankCode      string            `json:"bankCode,omitempty"`
	AccountNumber string            `json:"accountNumber,omitempty"`
	Recipient     string            `json:"recipient,omitempty"`
	Lookup        *LookupView       `json:"lookup,omitempty"`
	Destination   Destination       `json:"destination,omitempty"`
	Errors        map[string]string `json:"errors,omitempty"`
	CanSubmit     bool              `json:"canSubmit"`
	Blocked       string            `json:"blocked,omitempty"`
	BlockedAction string            `json:"blockedAction,omitempty"`
	Message       string            `json:"message,omitempty"`
	Reference     string            `json:"reference,omitempty"`
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSucceeded
	outcomeFailed
)

type Orchestrator struct {
	session Session
	backend Backend
	opts    Options

	bank *lookup.Resolver[bankKey, string]
	p2p  *lookup.Resolver[string, lookup.Recipient]

	inFlight atomic.Bool

	mu         sync.Mutex
	mode       Mode
	draft      draft
	amountText string
	narration  string
	outcome    outcome
	message    string
	reference  string
	banks      []user.Bank
}

func NewOrchestrator(s Session, l Lookup, b Backend, opts Options) *Orchestrator {
	if opts.NarrationMaxLength <= 0 {
		opts.NarrationMaxLength = 100
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 15 * time.Second
	}

	o := &Orchestrator{session: s, backend: b, opts: opts}
	o.bank = lookup.NewResolver("bank-lookup", opts.BankDebounce, opts.LookupTimeout,
		func(ctx context.Context, k bankKey) (string, error) {
			return l.ResolveBankAccount(ctx, k.BankCode, k.AccountNumber)
		})
	o.p2p = lookup.NewResolver("p2p-lookup", opts.P2PDebounce, opts.LookupTimeout,
		func(ctx context.Context, handle string) (lookup.Recipient, error) {
			// The profile may have loaded since the query was issued.
			if o.isOwnHandle(handle) {
				return lookup.Recipient{}, lookup.ErrSelfTransfer
			}
			return l.ResolveHandle(ctx, handle)
		})
	return o
}

// SelectMode switches to m with an empty destination. Amount and narration
// are kept.
func (o *Orchestrator) SelectMode(m Mode) (Snapshot, error) {
	if !m.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidMode, m)
	}
	o.mu.Lock()
	if o.inFlight.Load() {
		o.mu.Unlock()
		return Snapshot{}, ErrSubmissionInFlight
	}
	if o.mode != m {
		o.mode = m
		o.draft = emptyDraft(m)
		o.bank.Reset()
		o.p2p.Reset()
	}
	o.outcome = outcomeNone
	o.mu.Unlock()
	return o.Snapshot(), nil
}

// Update applies a form edit and starts any destination lookup it makes
// possible. Editing clears a previous outcome.
func (o *Orchestrator) Update(p Patch) (Snapshot, error) {
	// Checked under mu so an edit either lands before submit reads the form
	// or is refused.
	o.mu.Lock()
	if o.inFlight.Load() {
		o.mu.Unlock()
		return Snapshot{}, ErrSubmissionInFlight
	}
	if o.mode == "" && (p.BankCode != nil || p.AccountNumber != nil || p.Recipient != nil) {
		o.mu.Unlock()
		return Snapshot{}, ErrNoMode
	}

	switch d := o.draft.(type) {
	case otherBankDraft:
		if p.Recipient != nil {
			o.mu.Unlock()
			return Snapshot{}, fmt.Errorf("%w: recipient", ErrFieldNotInMode)
		}
		next := d
		if p.BankCode != nil {
			next.bankCode = strings.TrimSpace(*p.BankCode)
		}
		if p.AccountNumber != nil {
			next.accountNumber = strings.TrimSpace(*p.AccountNumber)
		}
		if next != d {
			o.draft = next
			o.queryBank(next)
		}
	case p2pDraft:
		if p.BankCode != nil || p.AccountNumber != nil {
			o.mu.Unlock()
			return Snapshot{}, fmt.Errorf("%w: bank account", ErrFieldNotInMode)
		}
		if p.Recipient != nil && strings.TrimSpace(*p.Recipient) != d.handle {
			next := p2pDraft{handle: strings.TrimSpace(*p.Recipient)}
			o.draft = next
			o.queryHandle(next)
		}
	case selfAccountDraft:
		if p.BankCode != nil || p.AccountNumber != nil || p.Recipient != nil {
			o.mu.Unlock()
			return Snapshot{}, fmt.Errorf("%w: destination", ErrFieldNotInMode)
		}
	}

	if p.Amount != nil {
		o.amountText = strings.TrimSpace(*p.Amount)
	}
	if p.Narration != nil {
		o.narration = *p.Narration
	}
	o.outcome = outcomeNone
	o.mu.Unlock()
	return o.Snapshot(), nil
}

func (o *Orchestrator) queryBank(d otherBankDraft) {
	if d.bankCode == "" || !lookup.ValidAccountNumber(d.accountNumber) {
		o.bank.Reset()
		return
	}
	o.bank.Query(bankKey{BankCode: d.bankCode, AccountNumber: d.accountNumber})
}

func (o *Orchestrator) queryHandle(d p2pDraft) {
	handle := lookup.NormalizeHandle(d.handle)
	if handle == "" || o.isOwnHandle(handle) {
		o.p2p.Reset()
		return
	}
	o.p2p.Query(handle)
}

func (o *Orchestrator) isOwnHandle(handle string) bool {
	own := lookup.NormalizeHandle(o.session.Profile().Value.WalletHandle)
	return own != "" && lookup.NormalizeHandle(handle) == own
}

// Submit sends the withdrawal once. While a submission is pending every
// other call returns ErrSubmissionInFlight without side effects.
func (o *Orchestrator) Submit(ctx context.Context) (Snapshot, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return Snapshot{}, ErrSubmissionInFlight
	}
	err := o.submit(ctx)
	o.inFlight.Store(false)
	return o.Snapshot(), err
}

func (o *Orchestrator) submit(ctx context.Context) error {
	identity, ok := o.session.Identity()
	if !ok {
		return store.ErrNoSession
	}

	o.mu.Lock()
	req, errs := o.validateLocked()
	if len(errs) > 0 {
		o.mu.Unlock()
		return &ValidationError{Fields: errs}
	}
	reference := id.Reference("wdr")
	o.mu.Unlock()

	fields := logger.Fields{
		logger.UserIdKey: identity.UserID,
		"mode":           string(req.Mode),
		"reference":      reference,
	}
	logger.Info("Submitting withdrawal", fields)

	err := o.backend.SubmitWithdrawal(ctx, backend.WithdrawalPayload{
		UserID:      identity.UserID,
		Mode:        string(req.Mode),
		Amount:      req.Amount,
		Narration:   req.Narration,
		Destination: req.Destination,
		Reference:   reference,
	})

	o.mu.Lock()
	o.reference = reference
	if err != nil {
		// Fields stay as they were so the user can correct and retry.
		o.outcome = outcomeFailed
		o.message = apiclient.Reason(err)
		if o.message == "" {
			o.message = err.Error()
		}
		o.mu.Unlock()
		logger.Warn("Withdrawal failed", logger.Merge(fields, logger.WithError(err)))
		return fmt.Errorf("submit withdrawal: %w", err)
	}

	o.outcome = outcomeSucceeded
	o.message = fmt.Sprintf("%s withdrawal submitted", req.Amount)
	o.amountText = ""
	o.narration = ""
	o.draft = emptyDraft(o.mode)
	o.bank.Reset()
	o.p2p.Reset()
	o.mu.Unlock()

	o.session.InvalidateBalance()
	o.session.InvalidateTransactions()
	logger.Info("Withdrawal submitted", fields)
	return nil
}

// validateLocked returns the request the current form would submit, or the
// reasons it can't.
func (o *Orchestrator) validateLocked() (Request, map[string]string) {
	errs := map[string]string{}
	if o.mode == "" {
		errs["mode"] = ErrNoMode.Error()
		return Request{}, errs
	}

	amount, err := wallet.ParseNaira(o.amountText)
	switch {
	case err != nil:
		errs["amount"] = err.Error()
	case amount <= 0:
		errs["amount"] = "amount must be greater than zero"
	}

	narration := strings.TrimSpace(o.narration)
	switch {
	case narration == "":
		errs["narration"] = "narration is required"
	case utf8.RuneCountInString(narration) > o.opts.NarrationMaxLength:
		errs["narration"] = fmt.Sprintf("narration must be at most %d characters", o.opts.NarrationMaxLength)
	}

	dest, field, derr := o.destinationLocked()
	if derr != nil {
		errs[field] = derr.Error()
	}

	if len(errs) > 0 {
		return Request{}, errs
	}
	return Request{Mode: o.mode, Amount: amount, Narration: narration, Destination: dest}, nil
}

// destinationLocked builds the destination for the current mode. On failure
// it names the field the error belongs to.
func (o *Orchestrator) destinationLocked() (Destination, string, error) {
	switch d := o.draft.(type) {
	case selfAccountDraft:
		bd := o.session.Profile().Value.BankDetails
		if !bd.Complete() {
			return nil, "destination", ErrNoBankDetails
		}
		return SelfAccount{
			BankCode:      bd.BankCode,
			BankName:      bd.BankName,
			AccountNumber: bd.AccountNumber,
			AccountName:   bd.AccountName,
		}, "", nil

	case otherBankDraft:
		if d.bankCode == "" {
			return nil, "bankCode", lookup.ErrMissingBank
		}
		if !lookup.ValidAccountNumber(d.accountNumber) {
			return nil, "accountNumber", lookup.ErrInvalidAccountNumber
		}
		res := o.bank.Current()
		key := bankKey{BankCode: d.bankCode, AccountNumber: d.accountNumber}
		if err := settledError(res.Key == key, res.Settled, res.Err); err != nil {
			return nil, "accountNumber", err
		}
		name := strings.TrimSpace(res.Value)
		if name == "" {
			return nil, "accountNumber", lookup.ErrNotFound
		}
		return OtherBank{
			BankCode:      d.bankCode,
			BankName:      o.bankNameLocked(d.bankCode),
			AccountNumber: d.accountNumber,
			AccountName:   name,
		}, "", nil

	case p2pDraft:
		handle := lookup.NormalizeHandle(d.handle)
		if handle == "" {
			return nil, "recipient", lookup.ErrEmptyHandle
		}
		if o.isOwnHandle(handle) {
			return nil, "recipient", lookup.ErrSelfTransfer
		}
		res := o.p2p.Current()
		if err := settledError(res.Key == handle, res.Settled, res.Err); err != nil {
			return nil, "recipient", err
		}
		if strings.TrimSpace(res.Value.Name) == "" {
			return nil, "recipient", lookup.ErrNotFound
		}
		if own := o.session.Profile().Value.WalletID; own != "" && res.Value.WalletID == own {
			return nil, "recipient", lookup.ErrSelfTransfer
		}
		return P2P{Handle: handle, Name: res.Value.Name, WalletID: res.Value.WalletID}, "", nil
	}
	return nil, "mode", ErrNoMode
}

var errLookupPending = errors.New("verifying account details")

func settledError(sameKey, settled bool, err error) error {
	if !sameKey || !settled {
		return errLookupPending
	}
	return err
}

func (o *Orchestrator) bankNameLocked(code string) string {
	for _, b := range o.banks {
		if b.Code == code {
			return b.Name
		}
	}
	return ""
}

// Banks lists the banks for the other_bank picker, fetched once per session.
func (o *Orchestrator) Banks(ctx context.Context) ([]user.Bank, error) {
	o.mu.Lock()
	cached := o.banks
	o.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	banks, err := o.backend.ListBanks(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(banks, func(i, j int) bool { return banks[i].Name < banks[j].Name })

	o.mu.Lock()
	o.banks = banks
	o.mu.Unlock()
	return banks, nil
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Mode:      o.mode,
		Amount:    o.amountText,
		Narration: o.narration,
		Reference: o.reference,
	}
	if o.outcome != outcomeNone {
		snap.Message = o.message
	}

	switch d := o.draft.(type) {
	case otherBankDraft:
		snap.BankCode, snap.AccountNumber = d.bankCode, d.accountNumber
		res := o.bank.Current()
		if res.InFlight || res.Settled {
			snap.Lookup = &LookupView{InFlight: res.InFlight, Name: res.Value, Error: errString(res.Err)}
		}
	case p2pDraft:
		snap.Recipient = d.handle
		res := o.p2p.Current()
		if res.InFlight || res.Settled {
			snap.Lookup = &LookupView{InFlight: res.InFlight, Name: res.Value.Name, WalletID: res.Value.WalletID, Error: errString(res.Err)}
		}
	}

	if o.mode == "" {
		snap.State = StateModeSelect
		return snap
	}

	req, errs := o.validateLocked()
	switch {
	case o.inFlight.Load():
		snap.State = StateSubmitting
	case o.outcome == outcomeSucceeded:
		snap.State = StateSucceeded
	case o.outcome == outcomeFailed:
		snap.State = StateFailed
	case errs["destination"] != "":
		snap.State = StateBlocked
		snap.Blocked = errs["destination"]
		snap.BlockedAction = "profile"
	case snap.Lookup != nil && snap.Lookup.InFlight:
		snap.State = StateLookupInFlight
	case len(errs) == 0:
		snap.State = StateReadyToSubmit
	default:
		snap.State = StateFieldEntry
	}

	if o.outcome == outcomeSucceeded {
		return snap
	}
	if len(errs) > 0 {
		snap.Errors = errs
	} else {
		snap.Destination = req.Destination
		snap.CanSubmit = !o.inFlight.Load()
	}
	return snap
}

// Close stops pending debounce timers and discards in-flight lookups.
func (o *Orchestrator) Close() {
	o.bank.Stop()
	o.p2p.Stop()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
