package wobot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ControlID names the role of an interactive component within a
// collector session. The wire custom ID is the session correlation
// prefix followed by the control ID.
type ControlID string

const (
	controlNext    ControlID = "next"
	controlPrev    ControlID = "prev"
	controlRefresh ControlID = "refresh"
	controlFilter  ControlID = "filter"
	controlCancel  ControlID = "cancel"
	controlBoop    ControlID = "boop"
	controlJoin    ControlID = "join"
)

// CollectorOutcomeKind discriminates what Collector.Next observed.
type CollectorOutcomeKind int

const (
	// CollectorTimeout means the idle deadline passed with no
	// recognized interaction. The session should tear down.
	CollectorTimeout CollectorOutcomeKind = iota

	// CollectorRecognized means an interaction arrived whose control
	// suffix is one the session registered. The idle deadline has been
	// reset.
	CollectorRecognized

	// CollectorUnrelated means an interaction carried this session's
	// correlation prefix but an unregistered suffix. It does not reset
	// the idle deadline and should be ignored.
	CollectorUnrelated
)

func (k CollectorOutcomeKind) String() string {
	switch k {
	case CollectorTimeout:
		return "timeout"
	case CollectorRecognized:
		return "recognized"
	case CollectorUnrelated:
		return "unrelated"
	default:
		return "unknown"
	}
}

// CollectorOutcome is the result of one Collector.Next call. Control
// and Interaction are set only for CollectorRecognized (Interaction is
// also set for CollectorUnrelated, so strays can be logged).
type CollectorOutcome struct {
	Kind        CollectorOutcomeKind
	Control     ControlID
	Interaction *discordgo.InteractionCreate
}

// Collector awaits follow-up component interactions for one command
// invocation. Each invocation gets a random correlation prefix; the
// gateway handler routes any component interaction whose custom ID
// starts with that prefix to this collector's channel.
type Collector struct {
	correlation string
	controls    map[ControlID]struct{}
	events      chan *discordgo.InteractionCreate
	idle        time.Duration
	deadline    time.Time
	logger      *slog.Logger
}

func newCollector(
	correlation string,
	idle time.Duration,
	logger *slog.Logger,
	controls ...ControlID,
) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	known := make(map[ControlID]struct{}, len(controls))
	for _, c := range controls {
		known[c] = struct{}{}
	}
	return &Collector{
		correlation: correlation,
		controls:    known,
		events:      make(chan *discordgo.InteractionCreate, 1),
		idle:        idle,
		deadline:    time.Now().Add(idle),
		logger: logger.With(
			loggerNameKey, "collector",
			"correlation", correlation,
		),
	}
}

// Correlation returns the session's correlation prefix.
func (c *Collector) Correlation() string {
	return c.correlation
}

// CustomID returns the wire custom ID for the given control in this
// session.
func (c *Collector) CustomID(control ControlID) string {
	return c.correlation + string(control)
}

// Next blocks until the next routed interaction, the idle deadline, or
// context cancellation (reported as a timeout outcome). The idle
// deadline is measured from the last recognized interaction, not from
// session start, so an active user can keep a session alive
// indefinitely. Unrelated interactions do not extend the deadline.
func (c *Collector) Next(ctx context.Context) CollectorOutcome {
	remaining := time.Until(c.deadline)
	if remaining <= 0 {
		return CollectorOutcome{Kind: CollectorTimeout}
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return CollectorOutcome{Kind: CollectorTimeout}
	case <-timer.C:
		return CollectorOutcome{Kind: CollectorTimeout}
	case i := <-c.events:
		customID := interactionCustomID(i)
		control := ControlID(strings.TrimPrefix(customID, c.correlation))
		if _, ok := c.controls[control]; !ok {
			c.logger.Info(
				"ignoring stray interaction",
				"custom_id", customID,
			)
			return CollectorOutcome{
				Kind:        CollectorUnrelated,
				Interaction: i,
			}
		}
		c.deadline = time.Now().Add(c.idle)
		return CollectorOutcome{
			Kind:        CollectorRecognized,
			Control:     control,
			Interaction: i,
		}
	}
}

// interactionCustomID extracts the component or modal custom ID from
// an interaction, or "" for other interaction types.
func interactionCustomID(i *discordgo.InteractionCreate) string {
	if i == nil {
		return ""
	}
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		return i.MessageComponentData().CustomID
	case discordgo.InteractionModalSubmit:
		return i.ModalSubmitData().CustomID
	default:
		return ""
	}
}

// collectorRouter fans incoming component interactions out to live
// collector sessions by correlation prefix.
type collectorRouter struct {
	mu       sync.RWMutex
	sessions map[string]*Collector
}

func newCollectorRouter() *collectorRouter {
	return &collectorRouter{sessions: map[string]*Collector{}}
}

func (r *collectorRouter) Register(c *Collector) {
	r.mu.Lock()
	r.sessions[c.correlation] = c
	r.mu.Unlock()
}

func (r *collectorRouter) Unregister(c *Collector) {
	r.mu.Lock()
	delete(r.sessions, c.correlation)
	r.mu.Unlock()
}

// Dispatch routes the interaction to the session whose correlation
// prefixes its custom ID. Returns false when no session matches.
// Sends never block the gateway goroutine: if the session isn't
// reading (busy in a state transition), the event is dropped, which
// Discord surfaces to the user as an unacknowledged click.
func (r *collectorRouter) Dispatch(i *discordgo.InteractionCreate) bool {
	customID := interactionCustomID(i)
	if customID == "" {
		return false
	}

	r.mu.RLock()
	var target *Collector
	for correlation, c := range r.sessions {
		if strings.HasPrefix(customID, correlation) {
			target = c
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return false
	}
	select {
	case target.events <- i:
	default:
		target.logger.Warn("dropping interaction, session busy", "custom_id", customID)
	}
	return true
}

// Paginator tracks a page offset over a fixed total, with wraparound
// at both ends.
type Paginator struct {
	Offset   int
	PageSize int
	Total    int
}

// Next advances one page, wrapping to offset 0 past the end.
func (p *Paginator) Next() int {
	if p.Offset+p.PageSize >= p.Total {
		p.Offset = 0
	} else {
		p.Offset += p.PageSize
	}
	return p.Offset
}

// Prev retreats one page. From offset 0 it wraps to the last
// full-page boundary, floor(total/pageSize)*pageSize.
func (p *Paginator) Prev() int {
	if p.Offset == 0 {
		p.Offset = (p.Total / p.PageSize) * p.PageSize
	} else {
		p.Offset -= p.PageSize
		if p.Offset < 0 {
			p.Offset = 0
		}
	}
	return p.Offset
}

// Page returns the half-open [start, end) bounds of the current page.
func (p *Paginator) Page() (start, end int) {
	start = p.Offset
	end = start + p.PageSize
	if end > p.Total {
		end = p.Total
	}
	if start > p.Total {
		start = p.Total
	}
	return start, end
}

// respondMessageUpdate acknowledges a component interaction by editing
// the message it's attached to. This must happen before the next
// Collector.Next call or the click appears to fail client-side.
func respondMessageUpdate(
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
	content string,
	embeds []*discordgo.MessageEmbed,
	components []discordgo.MessageComponent,
) error {
	return session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content:    content,
				Embeds:     embeds,
				Components: components,
			},
		},
	)
}

// respondEphemeral sends a throwaway ephemeral notice in response to
// an interaction, leaving the original message untouched.
func respondEphemeral(
	session DiscordSessionHandler,
	i *discordgo.InteractionCreate,
	content string,
) error {
	return session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

// teardownMessage strips all interactive components from the original
// interaction response, preserving content and embeds as last
// rendered.
func teardownMessage(
	session DiscordSessionHandler,
	interaction *discordgo.Interaction,
) error {
	components := []discordgo.MessageComponent{}
	_, err := session.InteractionResponseEdit(
		interaction,
		&discordgo.WebhookEdit{Components: &components},
	)
	return err
}
