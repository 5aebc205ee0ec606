// Package outreach schedules outbound e-mails inside the daily send window
// and delivers them over MX-routed SMTP channels with opt-out enforcement
// and spam-rejection fallback.
package outreach

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/textproto"
	"strings"
	"time"

	"github.com/ignite/leadgen-pipeline/internal/config"
	"github.com/ignite/leadgen-pipeline/internal/emailgen"
	"github.com/ignite/leadgen-pipeline/internal/mxrouter"
	"github.com/ignite/leadgen-pipeline/internal/normalize"
	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
)

// Outreach message statuses. Transitions are monotonic: sent, failed and
// skipped are terminal.
const (
	StatusScheduled = "scheduled"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusDisabled  = "disabled"
)

// spamSignatures mark a 5xx rejection as spam filtering rather than a hard
// recipient failure; such rejections on the yandex channel retry via gmail.
var spamSignatures = []string{"5.7.1", "5.7.0", "suspected spam", "message rejected"}

// Router classifies a recipient domain. *mxrouter.Router satisfies it.
type Router interface {
	Classify(ctx context.Context, domain string) mxrouter.Result
}

// QueueInput describes one message to be scheduled.
type QueueInput struct {
	CompanyID      string
	ContactID      string
	ToEmail        string
	Template       emailgen.EmailTemplate
	RequestPayload map[string]interface{}
}

// Message is a scheduled outreach row due for delivery.
type Message struct {
	ID        string
	CompanyID string
	ContactID string
	ToEmail   string
	Subject   string
	Body      string
}

// Sender owns scheduling and delivery of outreach messages.
type Sender struct {
	db        *sql.DB
	sending   config.SendingConfig
	gmail     config.SMTPChannel
	yandex    config.SMTPChannel
	loc       *time.Location
	router    Router
	transport Transport
	now       func() time.Time
	rng       *rand.Rand

	windowStartHour, windowStartMin int
	windowEndHour, windowEndMin     int
}

// NewSender builds a sender from the pipeline configuration.
func NewSender(db *sql.DB, cfg *config.Config, router Router, transport Transport) (*Sender, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	if transport == nil {
		transport = NewSMTPTransport(time.Duration(cfg.Sending.TimeoutSeconds) * time.Second)
	}

	s := &Sender{
		db:        db,
		sending:   cfg.Sending,
		gmail:     cfg.Gmail,
		yandex:    cfg.YandexSMTP,
		loc:       loc,
		router:    router,
		transport: transport,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if s.windowStartHour, s.windowStartMin, err = parseClock(cfg.Sending.WindowStart); err != nil {
		return nil, err
	}
	if s.windowEndHour, s.windowEndMin, err = parseClock(cfg.Sending.WindowEnd); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock replaces the time source. Intended for tests.
func (s *Sender) WithClock(now func() time.Time) *Sender {
	s.now = now
	return s
}

// WithRand replaces the delay randomness source. Intended for tests.
func (s *Sender) WithRand(rng *rand.Rand) *Sender {
	s.rng = rng
	return s
}

func parseClock(value string) (hour, minute int, err error) {
	if _, err = fmt.Sscanf(value, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("parse window time %q: %w", value, err)
	}
	return hour, minute, nil
}

const insertOutreachSQL = `
INSERT INTO outreach_messages (
    company_id, contact_id, channel, subject, body, status, scheduled_for, sent_at, last_error, metadata
)
VALUES ($1, $2, 'email', $3, $4, $5, $6, $7, $8, $9::jsonb)
RETURNING id`

const updateOutreachSQL = `
UPDATE outreach_messages
SET status = $1,
    sent_at = $2,
    last_error = $3,
    metadata = metadata || $4::jsonb,
    updated_at = NOW()
WHERE id = $5
RETURNING id`

// The read of the scheduling anchor skips rows locked by a concurrent
// scheduler run instead of blocking on them.
const selectLastScheduledSQL = `
SELECT scheduled_for
FROM outreach_messages
WHERE channel = 'email' AND scheduled_for IS NOT NULL
ORDER BY scheduled_for DESC
LIMIT 1
FOR UPDATE SKIP LOCKED`

const checkOptOutSQL = `
SELECT 1 FROM opt_out_registry
WHERE LOWER(contact_value) = LOWER($1)
LIMIT 1`

// Queue validates the recipient and persists the message with a computed
// send slot. Invalid recipients are persisted as skipped so they are never
// picked up again. It returns the new row id and its status.
func (s *Sender) Queue(ctx context.Context, in QueueInput) (string, string, error) {
	cleaned := normalize.CleanEmail(in.ToEmail)
	metadata := map[string]interface{}{"to_email": cleaned}
	if in.RequestPayload != nil {
		metadata["llm_request"] = in.RequestPayload
	}
	metadataJSON, _ := json.Marshal(metadata)

	if !normalize.IsValidEmail(cleaned) {
		logger.Warn("outreach: invalid recipient, skipping", "to", in.ToEmail, "company_id", in.CompanyID)
		var id string
		err := s.db.QueryRowContext(ctx, insertOutreachSQL,
			in.CompanyID, nullableStr(in.ContactID), in.Template.Subject, in.Template.Body,
			StatusSkipped, nil, nil, "invalid_email", string(metadataJSON),
		).Scan(&id)
		if err != nil {
			return "", "", fmt.Errorf("insert skipped outreach: %w", err)
		}
		return id, StatusSkipped, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("begin queue tx: %w", err)
	}

	scheduledFor, err := s.computeScheduledFor(ctx, tx)
	if err != nil {
		tx.Rollback()
		return "", "", err
	}

	var id string
	err = tx.QueryRowContext(ctx, insertOutreachSQL,
		in.CompanyID, nullableStr(in.ContactID), in.Template.Subject, in.Template.Body,
		StatusScheduled, scheduledFor, nil, nil, string(metadataJSON),
	).Scan(&id)
	if err != nil {
		tx.Rollback()
		return "", "", fmt.Errorf("insert outreach: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", "", fmt.Errorf("commit queue tx: %w", err)
	}

	logger.Info("outreach: queued", "to", cleaned, "scheduled_for", scheduledFor.Format(time.RFC3339))
	return id, StatusScheduled, nil
}

// computeScheduledFor anchors on max(last scheduled slot, now) and picks a
// jittered slot inside the daily send window, rolling to the next day when
// the window is exhausted. Returned time is UTC.
func (s *Sender) computeScheduledFor(ctx context.Context, tx *sql.Tx) (time.Time, error) {
	nowLocal := s.now().In(s.loc)

	var last sql.NullTime
	err := tx.QueryRowContext(ctx, selectLastScheduledSQL).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("select last scheduled: %w", err)
	}

	anchor := nowLocal
	if last.Valid {
		if lastLocal := last.Time.In(s.loc); lastLocal.After(anchor) {
			anchor = lastLocal
		}
	}

	return s.pickTimeWithinWindow(anchor, s.randomDelay()).UTC(), nil
}

func (s *Sender) randomDelay() time.Duration {
	min, max := s.sending.MinDelaySeconds, s.sending.MaxDelaySeconds
	if max <= min {
		return time.Duration(min) * time.Second
	}
	return time.Duration(min+s.rng.Intn(max-min+1)) * time.Second
}

func (s *Sender) windowBounds(day time.Time) (start, end time.Time) {
	start = time.Date(day.Year(), day.Month(), day.Day(), s.windowStartHour, s.windowStartMin, 0, 0, s.loc)
	end = time.Date(day.Year(), day.Month(), day.Day(), s.windowEndHour, s.windowEndMin, 0, 0, s.loc)
	return start, end
}

func (s *Sender) pickTimeWithinWindow(anchor time.Time, delay time.Duration) time.Time {
	windowStart, windowEnd := s.windowBounds(anchor)

	base := anchor
	switch {
	case anchor.Before(windowStart):
		base = windowStart
	case anchor.After(windowEnd):
		base, windowEnd = s.windowBounds(anchor.AddDate(0, 0, 1))
	}

	candidate := base.Add(delay)
	if candidate.After(windowEnd) {
		nextStart, _ := s.windowBounds(base.AddDate(0, 0, 1))
		candidate = nextStart.Add(s.randomDelay())
	}
	return candidate
}

// withinSendWindow reports whether t (converted to local time) is inside
// the daily delivery window.
func (s *Sender) withinSendWindow(t time.Time) bool {
	local := t.In(s.loc)
	start, end := s.windowBounds(local)
	return !local.Before(start) && !local.After(end)
}

// Deliver sends one scheduled message. It returns the resulting status.
// Outside the send window, or with sending disabled, the row is left
// untouched so the next tick retries it.
func (s *Sender) Deliver(ctx context.Context, msg Message) (string, error) {
	if !s.sending.Enabled {
		logger.Debug("outreach: sending disabled, leaving message queued", "outreach_id", msg.ID)
		return StatusDisabled, nil
	}
	if !s.withinSendWindow(s.now()) {
		logger.Debug("outreach: outside send window", "outreach_id", msg.ID)
		return StatusScheduled, nil
	}

	cleaned := normalize.CleanEmail(msg.ToEmail)
	if !normalize.IsValidEmail(cleaned) {
		return s.updateStatus(ctx, msg.ID, StatusSkipped, nil, "invalid_email",
			map[string]interface{}{"reason": "invalid_email"})
	}

	optedOut, err := s.isOptedOut(ctx, cleaned)
	if err != nil {
		return "", err
	}
	if optedOut {
		logger.Info("outreach: contact opted out", "to", cleaned)
		return s.updateStatus(ctx, msg.ID, StatusSkipped, nil, "opt_out",
			map[string]interface{}{"reason": "opt_out"})
	}

	route := s.pickRoute(ctx, cleaned)
	messageID := newMessageID(route.channel)
	raw := buildMessage(route.channel, cleaned, msg.Subject, msg.Body, route.replyTo, messageID)

	logger.Info("outreach: delivering", "to", cleaned, "provider", route.provider, "mx_class", string(route.mx.Class))
	sendErr := s.transport.Send(ctx, route.channel, route.channel.FromAddress(), cleaned, raw)
	if sendErr == nil {
		return s.updateStatus(ctx, msg.ID, StatusSent, timePtr(s.now()), "",
			sentMetadata(messageID, route, nil))
	}

	var authErr *AuthError
	if errors.As(sendErr, &authErr) {
		logger.Error("outreach: smtp auth failed", "provider", route.provider, "error", sendErr.Error())
		return s.updateStatus(ctx, msg.ID, StatusFailed, nil, sendErr.Error(),
			map[string]interface{}{"route": map[string]interface{}{"provider": route.provider, "error": sendErr.Error()}})
	}

	if route.provider == "yandex" && isSpamRejection(sendErr) && s.gmail.Configured() {
		logger.Warn("outreach: spam rejection on yandex, retrying via gmail", "to", cleaned, "error", sendErr.Error())

		gmailRoute := route
		gmailRoute.provider = "gmail"
		gmailRoute.channel = s.gmail
		gmailRoute.replyTo = ""
		gmailRoute.fallback = true

		retryID := newMessageID(s.gmail)
		retryRaw := buildMessage(s.gmail, cleaned, msg.Subject, msg.Body, "", retryID)
		if retryErr := s.transport.Send(ctx, s.gmail, s.gmail.FromAddress(), cleaned, retryRaw); retryErr != nil {
			chained := fmt.Sprintf("yandex: %v; gmail: %v", sendErr, retryErr)
			return s.updateStatus(ctx, msg.ID, StatusFailed, nil, chained,
				map[string]interface{}{"route": map[string]interface{}{
					"provider": "gmail", "fallback": true, "original_error": sendErr.Error(), "error": retryErr.Error(),
				}})
		}
		return s.updateStatus(ctx, msg.ID, StatusSent, timePtr(s.now()), "",
			sentMetadata(retryID, gmailRoute, sendErr))
	}

	logger.Error("outreach: delivery failed", "to", cleaned, "provider", route.provider, "error", sendErr.Error())
	return s.updateStatus(ctx, msg.ID, StatusFailed, nil, sendErr.Error(),
		map[string]interface{}{"route": map[string]interface{}{"provider": route.provider, "error": sendErr.Error()}})
}

type routeChoice struct {
	provider string
	channel  config.SMTPChannel
	replyTo  string
	fallback bool
	mx       mxrouter.Result
}

// pickRoute selects the SMTP channel by MX classification: RU recipients go
// through yandex with a gmail Reply-To, everything else through gmail. A
// misconfigured preferred channel degrades to gmail with the fallback flag.
func (s *Sender) pickRoute(ctx context.Context, email string) routeChoice {
	domain := ""
	if at := strings.LastIndex(email, "@"); at >= 0 {
		domain = email[at+1:]
	}
	result := s.router.Classify(ctx, domain)

	route := routeChoice{provider: "gmail", channel: s.gmail, mx: result}
	if result.Class == mxrouter.ClassRU {
		route.provider = "yandex"
		route.channel = s.yandex
		route.replyTo = formatFrom(s.gmail)
		if !s.yandex.Configured() {
			route = routeChoice{provider: "gmail", channel: s.gmail, fallback: true, mx: result}
		}
	}
	return route
}

func (s *Sender) isOptedOut(ctx context.Context, email string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, checkOptOutSQL, email).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check opt-out: %w", err)
	}
	return true, nil
}

func (s *Sender) updateStatus(ctx context.Context, outreachID, status string, sentAt *time.Time, lastError string, metadata map[string]interface{}) (string, error) {
	metadataJSON, _ := json.Marshal(metadata)
	var id string
	err := s.db.QueryRowContext(ctx, updateOutreachSQL,
		status, nullableTime(sentAt), nullableStr(lastError), string(metadataJSON), outreachID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("update outreach %s: %w", outreachID, err)
	}
	return status, nil
}

func sentMetadata(messageID string, route routeChoice, originalErr error) map[string]interface{} {
	routeMeta := map[string]interface{}{
		"provider": route.provider,
		"fallback": route.fallback,
	}
	if originalErr != nil {
		routeMeta["original_error"] = originalErr.Error()
	}
	return map[string]interface{}{
		"message_id": messageID,
		"route":      routeMeta,
		"mx": map[string]interface{}{
			"class":   string(route.mx.Class),
			"records": route.mx.Records,
		},
	}
}

// isSpamRejection reports whether the SMTP error is a permanent rejection
// carrying one of the known spam-filter signatures.
func isSpamRejection(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && (protoErr.Code < 500 || protoErr.Code > 599) {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, signature := range spamSignatures {
		if strings.Contains(text, signature) {
			return true
		}
	}
	return false
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t time.Time) *time.Time { return &t }
