/**
 * @description
 * This file contains the core of the ussd-service. The `Service` turns one gateway
 * exchange (session id, phone number, accumulated input) into a CON/END reply by loading
 * the session, dispatching the newest input token to the handler registered for the
 * session's step, and persisting the result with a compare-and-swap write.
 *
 * Key features:
 * - Explicit step table; an unknown step closes the session instead of looping.
 * - Replay guard: a re-delivered request gets the stored reply without re-running a step.
 * - Terminal mutations run only after the session close succeeded (one winner per session).
 * - Ledger writes carry per-session idempotency keys.
 *
 * @dependencies
 * - github.com/google/uuid: For session ids when the gateway omits one.
 * - internal/domain, internal/store, internal/validate.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/transfa/ussd-service/internal/domain"
	"github.com/transfa/ussd-service/internal/store"
	"github.com/transfa/ussd-service/internal/validate"
	"github.com/transfa/ussd-service/pkg/airtimeclient"
)

// Settings are the channel parameters the flows need. Amounts are in kobo.
type Settings struct {
	USSDCode          string
	BankName          string
	SupportPhone      string
	DefaultRegion     string
	MaxTransferAmount int64
	MinAirtimeAmount  int64
	MaxAirtimeAmount  int64
	USSDCharge        int64
	HistoryMaxItems   int
	Location          *time.Location
}

// AirtimeVendor fulfils an airtime purchase after the wallet has been debited.
type AirtimeVendor interface {
	TopUp(ctx context.Context, phone string, amount int64, reference string) (*airtimeclient.TopUpResponse, error)
}

// Service provides the USSD state machine.
type Service struct {
	repo     store.Repository
	sessions store.SessionStore
	pins     *PINGuard
	events   *EventPublisher
	airtime  AirtimeVendor
	settings Settings
	now      func() time.Time
	steps    map[domain.Step]stepHandler
}

// NewService creates a new USSD service instance.
func NewService(repo store.Repository, sessions store.SessionStore, pins *PINGuard, settings Settings) *Service {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.HistoryMaxItems <= 0 {
		settings.HistoryMaxItems = 10
	}
	if settings.DefaultRegion == "" {
		settings.DefaultRegion = "NG"
	}
	s := &Service{
		repo:     repo,
		sessions: sessions,
		pins:     pins,
		settings: settings,
		now:      time.Now,
	}
	s.steps = s.stepTable()
	return s
}

// SetEventPublisher enables wallet event publishing.
func (s *Service) SetEventPublisher(events *EventPublisher) {
	s.events = events
}

// SetAirtimeVendor enables real airtime fulfilment. Without one, top-ups are simulated.
func (s *Service) SetAirtimeVendor(vendor AirtimeVendor) {
	s.airtime = vendor
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Handle processes one gateway exchange and always produces a reply.
func (s *Service) Handle(ctx context.Context, req domain.USSDRequest) domain.Reply {
	phone := s.normalizePhone(req.PhoneNumber)
	segments := req.Segments()
	if len(segments) == 0 {
		return s.start(ctx, req.SessionID, phone)
	}

	session, err := s.sessions.Load(ctx, req.SessionID, phone)
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			log.Printf("level=error component=ussd msg=\"session load failed\" session_id=%s err=%v", req.SessionID, err)
			return domain.End(s.kindMessage(KindInternalFailure))
		}
		return domain.End(s.kindMessage(KindSessionExpired))
	}
	if session.PhoneNumber != phone {
		log.Printf("level=warn component=ussd msg=\"session phone mismatch\" session_id=%s", session.SessionID)
		return domain.End(s.kindMessage(KindSessionExpired))
	}

	if len(segments) <= session.Depth {
		log.Printf("level=info component=ussd msg=\"replaying stored reply\" session_id=%s depth=%d segments=%d", session.SessionID, session.Depth, len(segments))
		return domain.ParseReply(session.LastReply)
	}

	return s.route(ctx, session, len(segments), strings.TrimSpace(segments[len(segments)-1]))
}

func (s *Service) start(ctx context.Context, sessionID, phone string) domain.Reply {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.New().String()
	} else if replay, ok := s.resumeStart(ctx, sessionID, phone); ok {
		return replay
	}
	reply := domain.Continue(s.mainMenuText())
	session := &domain.Session{
		SessionID:   sessionID,
		PhoneNumber: phone,
		Step:        domain.StepMainMenu,
		LastReply:   reply.String(),
	}
	if err := s.sessions.Start(ctx, session); err != nil {
		log.Printf("level=error component=ussd msg=\"session start failed\" session_id=%s err=%v", sessionID, err)
		return domain.End(s.kindMessage(KindInternalFailure))
	}
	return reply
}

// resumeStart answers a re-delivered opening request for a session that has already
// consumed input with the session's stored reply, leaving the session untouched.
func (s *Service) resumeStart(ctx context.Context, sessionID, phone string) (domain.Reply, bool) {
	existing, err := s.sessions.Load(ctx, sessionID, "")
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			log.Printf("level=warn component=ussd msg=\"session lookup before start failed\" session_id=%s err=%v", sessionID, err)
		}
		return domain.Reply{}, false
	}
	if existing.SessionID != sessionID || existing.PhoneNumber != phone || existing.Depth == 0 {
		return domain.Reply{}, false
	}
	log.Printf("level=info component=ussd msg=\"opening request re-delivered; replaying stored reply\" session_id=%s depth=%d", sessionID, existing.Depth)
	return domain.ParseReply(existing.LastReply), true
}

func (s *Service) route(ctx context.Context, session *domain.Session, depth int, value string) domain.Reply {
	handler, ok := s.steps[session.Step]
	if !ok || !session.Step.Known() {
		log.Printf("level=error component=ussd msg=\"unknown step; closing session\" session_id=%s step=%q", session.SessionID, session.Step)
		if err := s.sessions.Deactivate(ctx, session.SessionID); err != nil {
			log.Printf("level=error component=ussd msg=\"deactivate failed\" session_id=%s err=%v", session.SessionID, err)
		}
		return domain.End(fmt.Sprintf("Something went wrong. Please dial %s to start again.", s.settings.USSDCode))
	}

	in := &stepInput{session: session, depth: depth, value: value}
	if handler.needsAccount {
		account, err := s.activeAccount(ctx, session.PhoneNumber)
		if err != nil {
			return s.abort(ctx, session, depth, err)
		}
		in.account = account
	}

	out, err := handler.run(ctx, in)
	if err != nil {
		return s.abort(ctx, session, depth, err)
	}
	return s.apply(ctx, session, depth, out)
}

func (s *Service) apply(ctx context.Context, session *domain.Session, depth int, out outcome) domain.Reply {
	session.Depth = depth

	switch out.kind {
	case outcomeReprompt, outcomeAdvance:
		if out.kind == outcomeAdvance {
			session.Step = out.next
			session.Data = out.data
		}
		reply := domain.Continue(out.body)
		session.LastReply = reply.String()
		if err := s.sessions.Upsert(ctx, session); err != nil {
			return domain.End(s.kindMessage(s.classifySessionWrite(session, err)))
		}
		return reply
	default:
		session.LastReply = domain.End(out.body).String()
		if err := s.sessions.Close(ctx, session); err != nil {
			return domain.End(s.kindMessage(s.classifySessionWrite(session, err)))
		}
		if out.commit == nil {
			return domain.End(out.body)
		}
		return domain.End(out.commit(ctx))
	}
}

// abort closes the session and explains err to the caller.
func (s *Service) abort(ctx context.Context, session *domain.Session, depth int, err error) domain.Reply {
	kind := Classify(err)
	flow, _ := session.Step.Flow()
	if kind == KindInternalFailure {
		log.Printf("level=error component=ussd msg=\"step failed\" session_id=%s flow=%s step=%s err=%v", session.SessionID, flow, session.Step, err)
	} else {
		log.Printf("level=info component=ussd msg=\"flow ended\" session_id=%s flow=%s step=%s kind=%s", session.SessionID, flow, session.Step, kind)
	}
	body := s.errorMessage(err)
	session.Depth = depth
	session.LastReply = domain.End(body).String()
	if closeErr := s.sessions.Close(ctx, session); closeErr != nil && !errors.Is(closeErr, store.ErrSessionConflict) {
		log.Printf("level=error component=ussd msg=\"session close failed\" session_id=%s err=%v", session.SessionID, closeErr)
	}
	return domain.End(body)
}

func (s *Service) classifySessionWrite(session *domain.Session, err error) ErrorKind {
	if errors.Is(err, store.ErrSessionConflict) {
		log.Printf("level=warn component=ussd msg=\"concurrent session write lost\" session_id=%s step=%s", session.SessionID, session.Step)
		return KindConflict
	}
	log.Printf("level=error component=ussd msg=\"session write failed\" session_id=%s err=%v", session.SessionID, err)
	return KindInternalFailure
}

// activeAccount resolves the caller's account and refuses locked or blocked ones.
func (s *Service) activeAccount(ctx context.Context, phone string) (*domain.Account, error) {
	account, err := s.repo.FindAccountByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrNotRegistered
		}
		return nil, err
	}
	switch account.Status {
	case domain.AccountStatusLocked:
		return nil, store.ErrAccountLocked
	case domain.AccountStatusBlocked:
		return nil, store.ErrAccountBlocked
	}
	return account, nil
}

func (s *Service) normalizePhone(raw string) string {
	phone, err := validate.NormalizePhone(raw, s.settings.DefaultRegion)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return phone
}

// checkPIN runs the shared PIN policy. ok is true when the PIN matched; otherwise the
// returned outcome re-prompts or, on lockout, ends the session.
func (s *Service) checkPIN(ctx context.Context, in *stepInput, prompt string) (bool, outcome, error) {
	if err := validate.PINFormat(in.value); err != nil {
		return false, reprompt("PIN must be 4 digits. " + prompt), nil
	}
	if s.pins.Verify(in.account, in.value) {
		if err := s.pins.RecordSuccess(ctx, in.account); err != nil {
			return false, outcome{}, err
		}
		return true, outcome{}, nil
	}

	// Win the session write before counting, so concurrent duplicates of one wrong PIN
	// count a single attempt.
	expected := s.pins.MaxAttempts() - in.account.FailedPINAttempts - 1
	if err := s.claimInput(ctx, in, s.invalidPINPrompt(expected, prompt)); err != nil {
		return false, outcome{}, err
	}

	locked, remaining, err := s.pins.RecordFailure(ctx, in.account)
	if err != nil {
		return false, outcome{}, err
	}
	if locked {
		s.publishAccountEvent(ctx, domain.EventAccountLocked, in.account)
		return false, finish("Account locked due to too many failed attempts. Contact support."), nil
	}
	return false, reprompt(s.invalidPINPrompt(remaining, prompt)), nil
}

func (s *Service) invalidPINPrompt(remaining int, prompt string) string {
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("%s %d attempts remaining. %s", s.kindMessage(KindAuthFailure), remaining, prompt)
}

// claimInput records the current input as consumed with a provisional reply. The
// session keeps its step and data; a lost compare-and-swap returns ErrSessionConflict.
func (s *Service) claimInput(ctx context.Context, in *stepInput, body string) error {
	in.session.Depth = in.depth
	in.session.LastReply = domain.Continue(body).String()
	return s.sessions.Upsert(ctx, in.session)
}

func (s *Service) idempotencyKey(session *domain.Session, suffix string) string {
	return session.SessionID + ":" + suffix
}

func (s *Service) displayPhone(phone string) string {
	return validate.DisplayPhone(phone)
}
