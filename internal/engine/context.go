package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/attache-app/attache/internal/logging"
	"github.com/attache-app/attache/internal/provider"
	"github.com/attache-app/attache/internal/store"
)

// ContextBuilder assembles the compact mail/calendar snapshot that goes into
// the model's system prompt. Snapshots are cached per user for a short TTL so
// a burst of chat turns does not hammer the provider APIs; any executed
// mutation invalidates the cache immediately.
type ContextBuilder struct {
	store    store.TokenStore
	registry *provider.Registry
	logger   *slog.Logger

	ttl        time.Duration
	windowDays int
	maxItems   int

	mu    sync.Mutex
	cache map[string]contextEntry
	now   func() time.Time
}

type contextEntry struct {
	text    string
	fetched time.Time
}

// NewContextBuilder creates a builder. ttl bounds snapshot reuse; windowDays
// is the calendar look-ahead; maxItems caps items per list to keep the
// prompt small.
func NewContextBuilder(st store.TokenStore, reg *provider.Registry, ttl time.Duration, windowDays, maxItems int, logger *slog.Logger) *ContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{
		store:      st,
		registry:   reg,
		logger:     logger,
		ttl:        ttl,
		windowDays: windowDays,
		maxItems:   maxItems,
		cache:      make(map[string]contextEntry),
		now:        time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (b *ContextBuilder) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Invalidate drops the cached snapshot for a user. Called after any executed
// mutation so the next turn sees the new state.
func (b *ContextBuilder) Invalidate(uid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, uid)
}

// Snapshot returns the prompt context for a user, fetching from the provider
// APIs when the cache is cold. Fetch failures degrade to a partial snapshot;
// a broken inbox listing must not take chat down with it.
func (b *ContextBuilder) Snapshot(ctx context.Context, uid string) string {
	b.mu.Lock()
	if entry, ok := b.cache[uid]; ok && b.now().Sub(entry.fetched) <= b.ttl {
		b.mu.Unlock()
		return entry.text
	}
	now := b.now()
	b.mu.Unlock()

	text := b.build(ctx, uid, now)

	b.mu.Lock()
	b.cache[uid] = contextEntry{text: text, fetched: now}
	b.mu.Unlock()
	return text
}

func (b *ContextBuilder) build(ctx context.Context, uid string, now time.Time) string {
	var connected []provider.Provider
	for _, p := range []provider.Provider{provider.Google, provider.Microsoft} {
		if _, err := b.registry.Client(p); err != nil {
			continue
		}
		cred, err := b.store.GetCredential(ctx, uid, p)
		if err != nil {
			b.logger.Warn("credential lookup failed while building context",
				logging.Operation("context.build"),
				logging.Provider(string(p)),
				logging.UserHash(uid),
				logging.Err(err))
			continue
		}
		if cred != nil {
			connected = append(connected, p)
		}
	}

	if len(connected) == 0 {
		return "No providers connected. The user must connect Google or Microsoft before email or calendar actions are possible."
	}

	var sections []string
	names := make([]string, len(connected))
	for i, p := range connected {
		names[i] = string(p)
	}
	sections = append(sections, fmt.Sprintf("Connected providers: %s.", strings.Join(names, ", ")))

	for _, p := range connected {
		sections = append(sections, b.providerSection(ctx, uid, p, now))
	}
	return strings.Join(sections, "\n\n")
}

// providerSection fetches mail and calendar for one provider in parallel.
func (b *ContextBuilder) providerSection(ctx context.Context, uid string, p provider.Provider, now time.Time) string {
	client, err := b.registry.Client(p)
	if err != nil {
		return ""
	}
	cred, err := b.store.GetCredential(ctx, uid, p)
	if err != nil || cred == nil {
		return ""
	}
	ctx = provider.WithUID(ctx, uid)

	var (
		wg       sync.WaitGroup
		messages []provider.MailMessage
		events   []provider.Event
		mailErr  error
		calErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		messages, mailErr = client.ListRecentMail(ctx, cred, provider.ListMailOptions{
			Max: int64(b.maxItems),
		})
	}()
	go func() {
		defer wg.Done()
		events, calErr = client.ListCalendarEvents(ctx, cred, provider.ListEventsOptions{
			WindowStart: now,
			WindowEnd:   now.AddDate(0, 0, b.windowDays),
			MaxResults:  int64(b.maxItems),
		})
	}()
	wg.Wait()

	var b2 strings.Builder
	if mailErr != nil {
		b.logger.Warn("mail context fetch failed",
			logging.Operation("context.build"),
			logging.Provider(string(p)),
			logging.UserHash(uid),
			logging.Err(mailErr))
		fmt.Fprintf(&b2, "Recent inbox (%s): unavailable right now.\n", p)
	} else {
		fmt.Fprintf(&b2, "Recent inbox (%s):\n", p)
		if len(messages) == 0 {
			b2.WriteString("- (empty)\n")
		}
		for _, m := range messages {
			fmt.Fprintf(&b2, "- [%s] from %s | %s | %s\n", m.ID, m.From, m.Subject, m.Date)
		}
	}

	if calErr != nil {
		b.logger.Warn("calendar context fetch failed",
			logging.Operation("context.build"),
			logging.Provider(string(p)),
			logging.UserHash(uid),
			logging.Err(calErr))
		fmt.Fprintf(&b2, "Upcoming events (%s): unavailable right now.", p)
	} else {
		fmt.Fprintf(&b2, "Upcoming events (%s, next %d days):\n", p, b.windowDays)
		if len(events) == 0 {
			b2.WriteString("- (none)")
		}
		for i, e := range events {
			fmt.Fprintf(&b2, "- [id %s] %s | %s to %s", e.ID, e.Title, e.Start, e.End)
			if e.Location != "" {
				fmt.Fprintf(&b2, " | %s", e.Location)
			}
			if i < len(events)-1 {
				b2.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(b2.String(), "\n")
}
