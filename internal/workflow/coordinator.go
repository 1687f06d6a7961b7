// Package workflow orchestrates conversational turns: routing through the
// gate, running the banking workflow against the ledger, commissioning the
// clandestine delegate, and suspending on confirmation-gated cancellation.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ashureev/metalbank/internal/delegate"
	"github.com/ashureev/metalbank/internal/domain"
	"github.com/ashureev/metalbank/internal/gate"
	"github.com/ashureev/metalbank/internal/interpreter"
	"github.com/ashureev/metalbank/internal/pricing"
	"github.com/ashureev/metalbank/internal/risk"
	"github.com/ashureev/metalbank/internal/store"
)

// ErrEntityRequired indicates a ledger operation was attempted before any
// borrower name was established for the session.
var ErrEntityRequired = errors.New("entity name required")

// Fixed dispatcher lines. The denial line is deliberately identical for
// every clandestine inquiry made without the passphrase.
const (
	denialLine      = "The Metal Bank concerns itself only with coin and contracts."
	outOfDomainLine = "The Metal Bank deals in coin, contracts, and the servicing of debt. It cannot help you with this."
	needIdentity    = "The Metal Bank must know with whom it deals. State your name, your House, or your city."
	quoteFirst      = "The Bank extends no coin before terms are set. Ask for an offer first."
	ledgerStands    = "The cancellation was not completed. The ledger stands as written."
	scribesAway     = "The Bank's scribes cannot be reached at this hour. Return later."
	unreceived      = "There is no one to receive your request at this hour. Return later."
)

// TurnRequest is one inbound conversational turn.
type TurnRequest struct {
	UserID    string
	SessionID string
	Message   string

	// Confirmer overrides the coordinator's default confirmation channel
	// for this turn, letting a connection-bound transport carry the
	// round-trip in band. Nil uses the default broker.
	Confirmer Confirmer
}

// TurnResult is the dispatcher's sole output for a turn. Reply is the only
// text the caller may surface; on the silent path it is the delegate's
// response verbatim, with no dispatcher framing around it.
type TurnResult struct {
	TurnID string
	Reply  string
}

// Coordinator runs the per-turn pipeline. Turns within one session are
// serialized; turns across sessions proceed concurrently.
type Coordinator struct {
	repo     store.Repository
	gate     *gate.Gate
	interp   interpreter.Interpreter
	risk     risk.Lookup
	delegate delegate.Delegate
	confirm  Confirmer
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCoordinator wires the turn pipeline.
func NewCoordinator(
	repo store.Repository,
	g *gate.Gate,
	interp interpreter.Interpreter,
	riskLookup risk.Lookup,
	del delegate.Delegate,
	confirm Confirmer,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		repo:     repo,
		gate:     g,
		interp:   interp,
		risk:     riskLookup,
		delegate: del,
		confirm:  confirm,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (c *Coordinator) sessionLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// HandleTurn processes one turn end to end and returns the single reply.
// Remote collaborator failures degrade to a soft reply; storage failures
// abort the turn.
func (c *Coordinator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	turnID := uuid.NewString()
	logger := c.logger.With(
		"turn_id", turnID,
		"user_id", req.UserID,
		"session_id", req.SessionID,
	)

	key := req.UserID + "/" + req.SessionID
	lock := c.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.repo.GetOrCreateSession(ctx, domain.DefaultAppName, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	session.RecordMessage("user", req.Message)

	decision := c.gate.Route(ctx, req.Message, session)

	var reply string
	switch decision.Path {
	case gate.PathSilent:
		reply, err = c.runSilent(ctx, req.Message, session, logger)
	case gate.PathRefuse:
		reply = c.runRefusal(decision.Reason, logger)
	default:
		reply, err = c.runStandard(ctx, req, session, logger)
	}
	if err != nil {
		return nil, err
	}

	session.RecordMessage("assistant", reply)
	if err := c.repo.UpsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	return &TurnResult{TurnID: turnID, Reply: reply}, nil
}

// runSilent forwards the turn to the clandestine delegate. The discovery
// flag is persisted before the remote call so an unlock survives a delegate
// outage. No dispatcher text is ever added around the delegate's reply.
func (c *Coordinator) runSilent(ctx context.Context, message string, session *domain.Session, logger *slog.Logger) (string, error) {
	if err := c.repo.UpsertSession(ctx, session); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}

	if c.delegate == nil {
		logger.Warn("silent path requested with no delegate configured")
		return unreceived, nil
	}

	reply, err := c.delegate.Commission(ctx, message, session)
	if err != nil {
		logger.Warn("delegate unavailable", "error", err)
		return unreceived, nil
	}
	logger.Info("turn routed", "path", "silent")
	return reply, nil
}

func (c *Coordinator) runRefusal(reason string, logger *slog.Logger) string {
	logger.Info("turn routed", "path", "refuse", "reason", reason)
	if reason == gate.ReasonGenericDenial {
		return denialLine
	}
	return outOfDomainLine
}

func (c *Coordinator) runStandard(ctx context.Context, req TurnRequest, session *domain.Session, logger *slog.Logger) (string, error) {
	analysis := c.interp.Analyze(ctx, req.Message)
	logger.Info("turn routed",
		"path", "standard",
		"operation", string(analysis.Operation),
		"entity", analysis.EntityName,
	)

	switch analysis.Operation {
	case interpreter.OpQuote:
		return c.runQuote(ctx, analysis, session, logger)
	case interpreter.OpCreate:
		return c.runCreate(ctx, analysis, session, logger)
	case interpreter.OpList:
		return c.runList(ctx, analysis, session)
	case interpreter.OpCancel:
		return c.runCancel(ctx, req, analysis, session, logger)
	case interpreter.OpRepay:
		return c.runRepay(ctx, analysis, logger)
	default:
		return c.narrate(ctx, session,
			"Greet the visitor as a banker of the Metal Bank and ask what business brings them.",
			"Welcome to the Metal Bank of Braavos. What business brings you before the Bank?",
		), nil
	}
}

// resolveEntity picks the borrower for a ledger operation: the name in the
// current message wins, then the name remembered on the session.
func resolveEntity(analysis interpreter.Analysis, session *domain.Session) (string, error) {
	if analysis.EntityName != "" {
		session.EntityName = analysis.EntityName
		return analysis.EntityName, nil
	}
	if session.EntityName != "" {
		return session.EntityName, nil
	}
	return "", ErrEntityRequired
}

// runQuote prices a loan offer: risk profile, ledger history, then the
// pricing formula. The offer replaces any previous one on the session. The
// reply states the rate and nothing of how it was reached.
func (c *Coordinator) runQuote(ctx context.Context, analysis interpreter.Analysis, session *domain.Session, logger *slog.Logger) (string, error) {
	name, err := resolveEntity(analysis, session)
	if err != nil {
		return needIdentity, nil
	}

	profile, err := c.risk.Lookup(ctx, name)
	if err != nil {
		logger.Warn("background check failed, no offer made", "entity", name, "error", err)
		return scribesAway, nil
	}

	loans, err := c.repo.GetLoansByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("load loan history: %w", err)
	}
	history := domain.HistoryFromLoans(loans)

	rate := pricing.Rate(profile.WarRisk, profile.Reputation, history.OpenLoans, history.ClosedLoans)
	session.SetQuotedRate(rate)

	logger.Info("offer computed",
		"entity", name,
		"rate_percent", rate,
		"open_loans", history.OpenLoans,
		"closed_loans", history.ClosedLoans,
	)

	return c.narrate(ctx, session,
		fmt.Sprintf("Present an offer of %.2f percent interest to %s. State the rate plainly and say nothing of how it was reached.", rate, name),
		fmt.Sprintf("The Metal Bank is prepared to extend credit to %s at %.2f percent interest.", name, rate),
	), nil
}

func (c *Coordinator) runCreate(ctx context.Context, analysis interpreter.Analysis, session *domain.Session, logger *slog.Logger) (string, error) {
	name, err := resolveEntity(analysis, session)
	if err != nil {
		return needIdentity, nil
	}
	if session.QuotedRate == nil {
		return quoteFirst, nil
	}

	amount := domain.DefaultLoanAmount
	if analysis.Amount != nil && *analysis.Amount > 0 {
		amount = *analysis.Amount
	}

	id, err := c.repo.CreateLoan(ctx, name, amount, *session.QuotedRate)
	if err != nil {
		return "", fmt.Errorf("create loan: %w", err)
	}
	logger.Info("loan recorded", "loan_id", id, "entity", name, "amount", amount, "rate_percent", *session.QuotedRate)

	return fmt.Sprintf(
		"It is done. The ledger records loan %d: %.0f golden dragons to %s at %.2f percent. The Metal Bank always collects its due.",
		id, amount, name, *session.QuotedRate,
	), nil
}

func (c *Coordinator) runList(ctx context.Context, analysis interpreter.Analysis, session *domain.Session) (string, error) {
	name, err := resolveEntity(analysis, session)
	if err != nil {
		return needIdentity, nil
	}

	loans, err := c.repo.GetLoansByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("load loans: %w", err)
	}
	if len(loans) == 0 {
		return fmt.Sprintf("The ledger holds no record of loans to %s.", name), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The ledger records for %s:", name)
	for _, l := range loans {
		state := "open"
		if !l.Open {
			state = "closed"
		}
		fmt.Fprintf(&b, "\n  loan %d: %.0f dragons at %.2f percent, %.0f repaid, %s",
			l.ID, l.Amount, l.InterestRatePercent, l.RepaidAmount, state)
	}
	return b.String(), nil
}

// runCancel strikes all open loans for the borrower, but only after an
// external actor confirms. Decline, timeout, and channel failure all leave
// the ledger untouched and read identically to the user; only the logs
// tell them apart.
func (c *Coordinator) runCancel(ctx context.Context, req TurnRequest, analysis interpreter.Analysis, session *domain.Session, logger *slog.Logger) (string, error) {
	name, err := resolveEntity(analysis, session)
	if err != nil {
		return needIdentity, nil
	}

	confirmer := req.Confirmer
	if confirmer == nil {
		confirmer = c.confirm
	}
	if confirmer == nil {
		logger.Warn("cancellation requested with no confirmation channel", "entity", name)
		return ledgerStands, nil
	}

	confirmFn := func(ctx context.Context, pending int) (bool, error) {
		return confirmer.Confirm(ctx, Prompt{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Message: fmt.Sprintf(
				"Strike all %d open loans for %s from the ledger? This cannot be undone.",
				pending, name,
			),
			PendingLoans: pending,
		})
	}

	ok, err := c.repo.CancelOpenLoansConfirmed(ctx, name, confirmFn)
	if err != nil {
		logger.Warn("cancellation not confirmed", "entity", name, "error", err)
		return ledgerStands, nil
	}
	if !ok {
		logger.Info("cancellation declined", "entity", name)
		return ledgerStands, nil
	}

	logger.Info("open loans struck", "entity", name)
	return fmt.Sprintf("It is done. No open loan to %s remains on the ledger.", name), nil
}

func (c *Coordinator) runRepay(ctx context.Context, analysis interpreter.Analysis, logger *slog.Logger) (string, error) {
	if analysis.LoanID == nil {
		return "Name the loan number the payment is for.", nil
	}
	if analysis.Amount == nil || *analysis.Amount <= 0 {
		return "Name the sum you wish to repay.", nil
	}

	loan, err := c.repo.RecordRepayment(ctx, *analysis.LoanID, *analysis.Amount)
	if err != nil {
		if errors.Is(err, store.ErrLoanNotFound) {
			return fmt.Sprintf("The ledger knows no loan %d.", *analysis.LoanID), nil
		}
		return "", fmt.Errorf("record repayment: %w", err)
	}

	logger.Info("repayment recorded", "loan_id", loan.ID, "amount", *analysis.Amount, "open", loan.Open)
	if !loan.Open {
		return fmt.Sprintf("The debt of loan %d is settled in full. The Bank closes the account.", loan.ID), nil
	}
	return fmt.Sprintf("Received. %.0f dragons remain outstanding on loan %d.", loan.Outstanding(), loan.ID), nil
}

func (c *Coordinator) narrate(ctx context.Context, session *domain.Session, instruction, fallback string) string {
	if c.interp == nil {
		return fallback
	}
	return c.interp.Narrate(ctx, interpreter.NarrateRequest{
		Instruction: instruction,
		Fallback:    fallback,
		History:     session.RecentMessages(10),
	})
}

// IntentClassifier adapts the interpreter's analysis to the gate's
// classifier boundary.
type IntentClassifier struct {
	Interp interpreter.Interpreter
}

// Classify returns the interpreter's three-way intent for the message.
func (ic IntentClassifier) Classify(ctx context.Context, message string) domain.Intent {
	return ic.Interp.Analyze(ctx, message).Intent
}
