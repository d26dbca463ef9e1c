// Package prompt assembles the system prompt for a chat turn from the
// companion's memory, context, and state collaborators.
//
// Assembly is an ordered, additive section pipeline: each section is
// appended only when non-empty, and a missing optional collaborator
// degrades its section to omitted rather than failing the turn. The
// result always contains the base persona text.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/becomeliminal/companion-core/core"
	"github.com/becomeliminal/companion-core/retrieval"
	"github.com/becomeliminal/companion-core/situation"
)

// Defaults for Config fields left zero.
const (
	DefaultMemoryTokenBudget = 1200
	DefaultMemoryLimit       = 10
	DefaultMaxActions        = 5
	DefaultTopGoals          = 3
	DefaultTaskEventWindow   = 5
)

// StateProvider reads the companion-state snapshot for a user. Optional
// collaborator; failure omits the directive, goals, and interests
// sections.
type StateProvider interface {
	State(ctx context.Context, userID string) (*core.CompanionState, error)
}

// ActionProvider lists the externally registered actions available to
// the companion. Optional collaborator.
type ActionProvider interface {
	Actions(ctx context.Context, userID string) ([]core.Action, error)
}

// Config tunes prompt assembly.
type Config struct {
	// MemoryTokenBudget caps the estimated size of the memory section.
	MemoryTokenBudget int
	// MemoryLimit is how many ranked memories to request before
	// budgeting trims them.
	MemoryLimit int
	// MaxActions caps the available-actions digest.
	MaxActions int
	// TopGoals caps each goal list.
	TopGoals int
	// TaskEventWindow is how many recent task events render literally;
	// older events are condensed.
	TaskEventWindow int
}

// DefaultConfig returns the standard assembly configuration.
func DefaultConfig() Config {
	return Config{
		MemoryTokenBudget: DefaultMemoryTokenBudget,
		MemoryLimit:       DefaultMemoryLimit,
		MaxActions:        DefaultMaxActions,
		TopGoals:          DefaultTopGoals,
		TaskEventWindow:   DefaultTaskEventWindow,
	}
}

// Builder assembles prompts. All collaborators except the persona text
// are optional; a nil collaborator simply omits its sections.
type Builder struct {
	situations *situation.Registry
	retriever  *retrieval.Retriever
	state      StateProvider
	actions    ActionProvider
	profiles   *ProfileCache
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures the builder.
type Option func(*Builder)

// WithSituations wires the context registry for the context summary
// section.
func WithSituations(r *situation.Registry) Option {
	return func(b *Builder) { b.situations = r }
}

// WithRetriever wires memory retrieval for the memory section.
func WithRetriever(r *retrieval.Retriever) Option {
	return func(b *Builder) { b.retriever = r }
}

// WithStateProvider wires the companion-state snapshot source.
func WithStateProvider(p StateProvider) Option {
	return func(b *Builder) { b.state = p }
}

// WithActionProvider wires the action registry.
func WithActionProvider(p ActionProvider) Option {
	return func(b *Builder) { b.actions = p }
}

// WithProfileCache wires the cached profile summarizer.
func WithProfileCache(c *ProfileCache) Option {
	return func(b *Builder) { b.profiles = c }
}

// WithConfig overrides the default configuration. Zero fields keep
// their defaults.
func WithConfig(cfg Config) Option {
	return func(b *Builder) {
		if cfg.MemoryTokenBudget > 0 {
			b.cfg.MemoryTokenBudget = cfg.MemoryTokenBudget
		}
		if cfg.MemoryLimit > 0 {
			b.cfg.MemoryLimit = cfg.MemoryLimit
		}
		if cfg.MaxActions > 0 {
			b.cfg.MaxActions = cfg.MaxActions
		}
		if cfg.TopGoals > 0 {
			b.cfg.TopGoals = cfg.TopGoals
		}
		if cfg.TaskEventWindow > 0 {
			b.cfg.TaskEventWindow = cfg.TaskEventWindow
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder creates a prompt builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "prompt")
	return b
}

// BuildParams are the inputs of one assembly.
type BuildParams struct {
	UserID string
	// Persona is the base persona and fixed instructions. Always the
	// first section of the result.
	Persona string
	// Utterance is the user's current message, used as the memory
	// retrieval query. Empty retrieves on importance alone.
	Utterance string
	// Task is the active structured task, if any. Scopes retrieval and
	// adds the task-state section.
	Task *core.TaskState
}

// Build assembles the prompt. Collaborator failures degrade their
// sections and are logged; the result always contains the persona.
func (b *Builder) Build(ctx context.Context, p BuildParams) string {
	log := b.logger.With("user_id", p.UserID)
	sections := make([]string, 0, 9)

	sections = append(sections, p.Persona)

	var state *core.CompanionState
	if b.state != nil {
		var err error
		state, err = b.state.State(ctx, p.UserID)
		if err != nil {
			log.Warn("state provider failed, omitting state sections", "error", err)
			state = nil
		}
	}

	if state != nil && state.Directive != "" {
		sections = append(sections, "Standing directive from the user: "+state.Directive)
	}

	if s := b.contextSection(ctx, p.UserID, log); s != "" {
		sections = append(sections, s)
	}

	if b.profiles != nil {
		summary, err := b.profiles.Get(ctx, p.UserID)
		if err != nil {
			log.Warn("profile summary unavailable, omitting", "error", err)
		} else if summary != "" {
			sections = append(sections, "What you know about the user:\n"+summary)
		}
	}

	if s := b.memorySection(ctx, p, log); s != "" {
		sections = append(sections, s)
	}

	if state != nil {
		if s := b.goalsSection(state); s != "" {
			sections = append(sections, s)
		}
		if s := interestsSection(state); s != "" {
			sections = append(sections, s)
		}
	}

	if p.Task != nil {
		if s := b.taskSection(p.Task); s != "" {
			sections = append(sections, s)
		}
	}

	if s := b.actionsSection(ctx, p.UserID, log); s != "" {
		sections = append(sections, s)
	}

	return strings.Join(sections, "\n\n")
}

func (b *Builder) contextSection(ctx context.Context, userID string, log *slog.Logger) string {
	if b.situations == nil {
		return ""
	}
	items, err := b.situations.List(ctx, userID, situation.Filter{})
	if err != nil {
		log.Warn("context list failed, omitting context summary", "error", err)
		return ""
	}
	return formatContextSummary(items)
}

func (b *Builder) memorySection(ctx context.Context, p BuildParams, log *slog.Logger) string {
	if b.retriever == nil {
		return ""
	}
	opts := retrieval.Options{}
	if p.Task != nil {
		opts.ActivityScope = true
		opts.ActivityID = p.Task.ID
	}
	results, err := b.retriever.Retrieve(ctx, p.UserID, p.Utterance, b.cfg.MemoryLimit, opts)
	if err != nil {
		log.Warn("memory retrieval failed, omitting memory section", "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	header := "Relevant memories about the user:"
	used := EstimateTokens(header)
	lines := []string{header}
	for _, res := range results {
		line := fmt.Sprintf("- %s (Relevance: %.0f%%)", res.Memory.Text, res.Score*100)
		cost := EstimateTokens(line)
		if used+cost > b.cfg.MemoryTokenBudget {
			// Greedy in ranked order: the first overflow ends the
			// section even if a later line would fit.
			break
		}
		used += cost
		lines = append(lines, line)
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) goalsSection(state *core.CompanionState) string {
	var lines []string
	if gs := topGoals(state.CompanionGoals, b.cfg.TopGoals); len(gs) > 0 {
		lines = append(lines, "Your current goals: "+joinGoals(gs))
	}
	if gs := topGoals(state.UserGoals, b.cfg.TopGoals); len(gs) > 0 {
		lines = append(lines, "The user's stated goals: "+joinGoals(gs))
	}
	if len(state.FocusAreas) > 0 {
		lines = append(lines, "Current focus areas: "+strings.Join(state.FocusAreas, ", "))
	}
	if state.Emotion != nil && state.Emotion.Mood != "" {
		lines = append(lines, fmt.Sprintf("Your current emotional state: %s (intensity %.1f)",
			state.Emotion.Mood, state.Emotion.Intensity))
	}
	if !state.LastInteraction.IsZero() {
		lines = append(lines, "Time since last interaction: "+humanDuration(b.now().Sub(state.LastInteraction)))
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func interestsSection(state *core.CompanionState) string {
	var lines []string
	if len(state.UserInterests) > 0 {
		lines = append(lines, "The user is interested in: "+strings.Join(state.UserInterests, ", "))
	}
	if len(state.CompanionInterests) > 0 {
		lines = append(lines, "You are interested in: "+strings.Join(state.CompanionInterests, ", "))
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) taskSection(task *core.TaskState) string {
	switch task.Kind {
	case core.TaskRoleplay:
		if task.Roleplay != nil {
			return b.renderRoleplay(task.Name, task.Roleplay)
		}
	case core.TaskGame:
		if task.Game != nil {
			return renderGame(task.Name, task.Game)
		}
	}
	if task.Name == "" {
		return ""
	}
	return "Ongoing activity: " + task.Name
}

func (b *Builder) renderRoleplay(name string, rp *core.RoleplayState) string {
	var lines []string
	lines = append(lines, "Ongoing roleplay: "+name)
	if rp.Scenario != "" {
		lines = append(lines, "Scenario: "+rp.Scenario)
	}
	if len(rp.Characters) > 0 {
		lines = append(lines, "Characters: "+strings.Join(rp.Characters, ", "))
	}
	if rp.Mood != "" {
		lines = append(lines, "Mood: "+rp.Mood)
	}
	if len(rp.Events) > 0 {
		recent := rp.Events
		if len(recent) > b.cfg.TaskEventWindow {
			older := recent[:len(recent)-b.cfg.TaskEventWindow]
			recent = recent[len(recent)-b.cfg.TaskEventWindow:]
			if summary := condenseEvents(older); summary != "" {
				lines = append(lines, "Earlier: "+summary)
			}
		}
		lines = append(lines, "Recent events:")
		for _, ev := range recent {
			lines = append(lines, "- "+ev)
		}
	}
	return strings.Join(lines, "\n")
}

func renderGame(name string, g *core.GameState) string {
	var lines []string
	lines = append(lines, "Ongoing game: "+name)
	if g.Game != "" && g.Game != name {
		lines = append(lines, "Game: "+g.Game)
	}
	if g.Board != "" {
		lines = append(lines, "Board: "+g.Board)
	}
	if len(g.Scores) > 0 {
		players := make([]string, 0, len(g.Scores))
		for p := range g.Scores {
			players = append(players, p)
		}
		sort.Strings(players)
		parts := make([]string, len(players))
		for i, p := range players {
			parts[i] = fmt.Sprintf("%s %d", p, g.Scores[p])
		}
		lines = append(lines, "Scores: "+strings.Join(parts, ", "))
	}
	if g.Turn != "" {
		lines = append(lines, "Turn: "+g.Turn)
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) actionsSection(ctx context.Context, userID string, log *slog.Logger) string {
	if b.actions == nil {
		return ""
	}
	actions, err := b.actions.Actions(ctx, userID)
	if err != nil {
		log.Warn("action provider failed, omitting actions digest", "error", err)
		return ""
	}
	if len(actions) == 0 {
		return ""
	}
	if len(actions) > b.cfg.MaxActions {
		actions = actions[:b.cfg.MaxActions]
	}
	lines := []string{"Available actions:"}
	for _, a := range actions {
		lines = append(lines, fmt.Sprintf("- %s (%s)", a.Name, a.Category))
	}
	return strings.Join(lines, "\n")
}

// topGoals returns up to n goals sorted by descending priority. The
// input is not mutated.
func topGoals(goals []core.Goal, n int) []core.Goal {
	if len(goals) == 0 {
		return nil
	}
	sorted := make([]core.Goal, len(goals))
	copy(sorted, goals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func joinGoals(goals []core.Goal) string {
	parts := make([]string, len(goals))
	for i, g := range goals {
		parts[i] = g.Text
	}
	return strings.Join(parts, "; ")
}

// humanDuration renders an elapsed duration at the coarsest sensible
// unit.
func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
}
