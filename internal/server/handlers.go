package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/attache-app/attache/internal/engine"
	"github.com/attache-app/attache/internal/instrumentation"
	"github.com/attache-app/attache/internal/logging"
	"github.com/attache-app/attache/internal/provider"
	"github.com/attache-app/attache/internal/store"
)

// decodeBody parses a JSON request body into dst. A malformed body is a
// client error, not a server one.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &engine.BadInputError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// pathProvider parses the {provider} path segment.
func pathProvider(r *http.Request) (provider.Provider, error) {
	p, err := provider.ParseProvider(r.PathValue("provider"))
	if err != nil {
		return "", &engine.BadInputError{Field: "provider", Reason: err.Error()}
	}
	return p, nil
}

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	OK            bool   `json:"ok"`
	Outcome       string `json:"outcome"`
	AssistantText string `json:"assistantText"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	uid := uidFromContext(r.Context())

	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, "http.chat", err)
		return
	}
	if req.Text == "" {
		writeError(w, s.logger, "http.chat",
			&engine.BadInputError{Field: "text", Reason: "must not be empty"})
		return
	}

	res, err := s.engine.HandleChat(r.Context(), uid, req.Text)
	if err != nil {
		writeError(w, s.logger, "http.chat", err)
		return
	}

	if res.Executed != nil {
		s.audit.LogAction(instrumentation.
			NewActionRecord(string(res.Executed.Type), string(res.Executed.Provider), uid).
			WithSpanContext(r.Context()).
			Complete(nil))
	}

	writeJSON(w, http.StatusOK, chatResponse{
		OK:            true,
		Outcome:       string(res.Outcome),
		AssistantText: res.AssistantText,
	})
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	uid := uidFromContext(r.Context())

	p, err := pathProvider(r)
	if err != nil {
		writeError(w, s.logger, "http.oauth.start", err)
		return
	}
	if !s.flow.Configured(p) {
		writeError(w, s.logger, "http.oauth.start", &engine.NotConnectedError{Provider: p})
		return
	}

	url, err := s.flow.StartURL(uid, p, r.URL.Query().Get("redirect"))
	if err != nil {
		writeError(w, s.logger, "http.oauth.start", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "url": url})
}

const connectedPage = `<!DOCTYPE html>
<html><head><title>Connected</title></head>
<body><p>Account connected. You can close this window and return to the app.</p></body></html>`

const connectFailedPage = `<!DOCTYPE html>
<html><head><title>Connection failed</title></head>
<body><p>Connecting the account didn't work. Go back to the app and try again.</p></body></html>`

// handleOAuthCallback finishes the consent flow. It renders for a browser,
// not the API client, so failures answer with a small HTML page instead of
// the JSON envelope.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		writeError(w, s.logger, "http.oauth.callback", err)
		return
	}

	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		s.metrics.RecordOAuthConnect(r.Context(), string(p), instrumentation.OAuthResultFailure)
		s.logger.Warn("oauth consent denied",
			logging.Operation("http.oauth.callback"),
			logging.Provider(string(p)),
			logging.Err(fmt.Errorf("provider returned %q", denied)))
		writeHTML(w, http.StatusBadRequest, connectFailedPage)
		return
	}

	deepLink, err := s.flow.HandleCallback(r.Context(), p, q.Get("code"), q.Get("state"))
	if err != nil {
		status, code, _ := classify(err)
		result := instrumentation.OAuthResultFailure
		if code == errCodeInvalidState {
			result = instrumentation.OAuthResultInvalidState
		}
		s.metrics.RecordOAuthConnect(r.Context(), string(p), result)
		s.logger.Warn("oauth callback failed",
			logging.Operation("http.oauth.callback"),
			logging.Provider(string(p)),
			logging.Err(err))
		writeHTML(w, status, connectFailedPage)
		return
	}

	s.metrics.RecordOAuthConnect(r.Context(), string(p), instrumentation.OAuthResultSuccess)

	if deepLink != "" {
		http.Redirect(w, r, deepLink, http.StatusFound)
		return
	}
	writeHTML(w, http.StatusOK, connectedPage)
}

func (s *Server) handleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	uid := uidFromContext(r.Context())

	status, err := s.flow.Status(r.Context(), uid)
	if err != nil {
		writeError(w, s.logger, "http.oauth.status", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "providers": status})
}

type sendEmailRequest struct {
	Provider string   `json:"provider"`
	To       string   `json:"to"`
	Subject  string   `json:"subject"`
	BodyText string   `json:"bodyText"`
	Cc       []string `json:"cc,omitempty"`
	Bcc      []string `json:"bcc,omitempty"`
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, "http.actions.send_email", err)
		return
	}
	s.runAction(w, r, "http.actions.send_email", req.Provider, provider.ActionSendEmail,
		&provider.SendMailInput{
			To:       req.To,
			Subject:  req.Subject,
			BodyText: req.BodyText,
			Cc:       req.Cc,
			Bcc:      req.Bcc,
		})
}

type createEventRequest struct {
	Provider    string   `json:"provider"`
	Title       string   `json:"title"`
	StartISO    string   `json:"startISO"`
	EndISO      string   `json:"endISO"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, "http.actions.create_event", err)
		return
	}
	s.runAction(w, r, "http.actions.create_event", req.Provider, provider.ActionCreateEvent,
		&provider.CreateEventInput{
			Title:       req.Title,
			StartISO:    req.StartISO,
			EndISO:      req.EndISO,
			Description: req.Description,
			Location:    req.Location,
			Attendees:   req.Attendees,
		})
}

type deleteEventRequest struct {
	Provider string `json:"provider"`
	EventID  string `json:"eventId"`
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	var req deleteEventRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, s.logger, "http.actions.delete_event", err)
		return
	}
	s.runAction(w, r, "http.actions.delete_event", req.Provider, provider.ActionDeleteEvent,
		&provider.DeleteEventInput{EventID: req.EventID})
}

// runAction executes a direct action for clients with their own confirmation
// UI. Every attempt produces an audit line, success or not.
func (s *Server) runAction(w http.ResponseWriter, r *http.Request, operation, providerName string, t provider.ActionType, in any) {
	uid := uidFromContext(r.Context())

	p, err := provider.ParseProvider(providerName)
	if err != nil {
		writeError(w, s.logger, operation,
			&engine.BadInputError{Field: "provider", Reason: err.Error()})
		return
	}

	payload, err := json.Marshal(in)
	if err != nil {
		writeError(w, s.logger, operation, fmt.Errorf("encode action payload: %w", err))
		return
	}

	record := instrumentation.NewActionRecord(string(t), string(p), uid).
		WithSpanContext(r.Context())

	result, err := s.engine.ExecuteAction(r.Context(), uid, p, t, payload)
	s.audit.LogAction(record.WithResource(resourceID(t, in, result)).Complete(err))
	if err != nil {
		writeError(w, s.logger, operation, err)
		return
	}

	body := map[string]any{"ok": true}
	if result != nil {
		body["result"] = result
	}
	writeJSON(w, http.StatusOK, body)
}

// resourceID extracts the upstream identifier touched by an action, for the
// audit trail.
func resourceID(t provider.ActionType, in, result any) string {
	switch t {
	case provider.ActionSendEmail:
		if res, ok := result.(*provider.SendMailResult); ok {
			return res.ID
		}
	case provider.ActionCreateEvent:
		if ev, ok := result.(*provider.Event); ok {
			return ev.ID
		}
	case provider.ActionDeleteEvent:
		if del, ok := in.(*provider.DeleteEventInput); ok {
			return del.EventID
		}
	}
	return ""
}

type pendingResponse struct {
	OK      bool                 `json:"ok"`
	Pending *store.PendingAction `json:"pending"`
}

func (s *Server) handlePendingGet(w http.ResponseWriter, r *http.Request) {
	uid := uidFromContext(r.Context())

	pending, err := s.store.GetPendingAction(r.Context(), uid)
	if err != nil {
		writeError(w, s.logger, "http.actions.pending", err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{OK: true, Pending: pending})
}

func (s *Server) handlePendingDelete(w http.ResponseWriter, r *http.Request) {
	uid := uidFromContext(r.Context())

	pending, err := s.store.GetPendingAction(r.Context(), uid)
	if err != nil {
		writeError(w, s.logger, "http.actions.pending", err)
		return
	}
	if err := s.store.ClearPendingAction(r.Context(), uid); err != nil {
		writeError(w, s.logger, "http.actions.pending", err)
		return
	}
	if pending != nil {
		s.metrics.DecrementPendingActions(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMail(w http.ResponseWriter, r *http.Request) {
	uid := uidFromContext(r.Context())

	p, client, cred, err := s.listTarget(r, uid)
	if err != nil {
		writeError(w, s.logger, "http.mail", err)
		return
	}

	max := queryInt64(r, "max", s.listMax)
	ctx := provider.WithUID(r.Context(), uid)

	start := time.Now()
	messages, err := client.ListRecentMail(ctx, cred, provider.ListMailOptions{Max: max})
	s.metrics.RecordProviderOperation(ctx, string(p), "mail.list",
		operationStatus(err), time.Since(start))
	if err != nil {
		writeError(w, s.logger, "http.mail", err)
		return
	}
	if messages == nil {
		messages = []provider.MailMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "provider": p, "messages": messages})
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	uid := uidFromContext(r.Context())

	p, client, cred, err := s.listTarget(r, uid)
	if err != nil {
		writeError(w, s.logger, "http.calendar", err)
		return
	}

	days := queryInt64(r, "days", int64(s.calendarWindowDays))
	ctx := provider.WithUID(r.Context(), uid)
	now := time.Now()

	start := time.Now()
	events, err := client.ListCalendarEvents(ctx, cred, provider.ListEventsOptions{
		WindowStart: now,
		WindowEnd:   now.AddDate(0, 0, int(days)),
		MaxResults:  s.listMax,
	})
	s.metrics.RecordProviderOperation(ctx, string(p), "calendar.list",
		operationStatus(err), time.Since(start))
	if err != nil {
		writeError(w, s.logger, "http.calendar", err)
		return
	}
	if events == nil {
		events = []provider.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "provider": p, "events": events})
}

// listTarget resolves the provider a listing request reads from: the
// ?provider query value when present, otherwise the first connected one,
// Google preferred.
func (s *Server) listTarget(r *http.Request, uid string) (provider.Provider, provider.ActionClient, *provider.Credential, error) {
	if name := r.URL.Query().Get("provider"); name != "" {
		p, err := provider.ParseProvider(name)
		if err != nil {
			return "", nil, nil, &engine.BadInputError{Field: "provider", Reason: err.Error()}
		}
		client, cred, err := s.connected(r, uid, p)
		if err != nil {
			return "", nil, nil, err
		}
		return p, client, cred, nil
	}

	for _, p := range []provider.Provider{provider.Google, provider.Microsoft} {
		client, cred, err := s.connected(r, uid, p)
		if err != nil {
			var notConnected *engine.NotConnectedError
			if errors.As(err, &notConnected) {
				continue
			}
			return "", nil, nil, err
		}
		return p, client, cred, nil
	}
	return "", nil, nil, &engine.NotConnectedError{Provider: provider.Google}
}

func (s *Server) connected(r *http.Request, uid string, p provider.Provider) (provider.ActionClient, *provider.Credential, error) {
	client, err := s.registry.Client(p)
	if err != nil {
		return nil, nil, &engine.NotConnectedError{Provider: p}
	}
	cred, err := s.store.GetCredential(r.Context(), uid, p)
	if err != nil {
		return nil, nil, err
	}
	if cred == nil {
		return nil, nil, &engine.NotConnectedError{Provider: p}
	}
	return client, cred, nil
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	var v int64
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil || v <= 0 {
		return fallback
	}
	return v
}

func operationStatus(err error) string {
	if err != nil {
		return instrumentation.StatusError
	}
	return instrumentation.StatusSuccess
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
