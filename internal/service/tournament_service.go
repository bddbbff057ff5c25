package service

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/AdamBeresnev/parlor/internal/pubsub"
	"github.com/gosimple/slug"
)

// MatchRunner plays a single match to completion.
type MatchRunner interface {
	RunMatch(ctx context.Context, guildID string, a, b *battle.Participant) (*battle.Match, error)
}

type SessionOptions struct {
	Capacity      int
	AnnounceDelay time.Duration
	MatchCooldown time.Duration
	RoundCooldown time.Duration
	// Debug skips every delay.
	Debug bool
}

// Outcome summarizes a finished run.
type Outcome struct {
	Mode     battle.Mode         `json:"mode"`
	Champion *battle.Participant `json:"champion,omitempty"`
	// Tally is wins per roster key in a team war.
	Tally  map[string]int `json:"tally,omitempty"`
	Victor string         `json:"victor,omitempty"`
	Draw   bool           `json:"draw,omitempty"`
}

type Status struct {
	GuildID  string               `json:"guild_id"`
	State    battle.State         `json:"state"`
	Mode     battle.Mode          `json:"mode"`
	Chooser  *battle.Participant  `json:"chooser,omitempty"`
	Queue    []*battle.Participant `json:"queue,omitempty"`
	Rosters  []*battle.Roster     `json:"rosters,omitempty"`
	Capacity int                  `json:"capacity"`
	Active   bool                 `json:"active"`
	Last     *Outcome             `json:"last,omitempty"`
}

var DefaultRosterNames = []string{"Red", "Blue"}

// Session is the tournament state machine of one guild:
// IDLE -> MODE_SELECT -> REGISTERING -> RUNNING -> IDLE.
type Session struct {
	guildID  string
	runner   MatchRunner
	equipper Equipper
	betting  *BettingService
	events   pubsub.Publisher
	opts     SessionOptions

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	state   battle.State
	mode    battle.Mode
	chooser *battle.Participant
	queue   []*battle.Participant
	rosters []*battle.Roster
	active  bool
	gen     int
	cancel  context.CancelFunc
	done    chan struct{}
	last    *Outcome
}

// NewSession creates an IDLE session. Stakes still held by betting are
// refunded on Reset; betting may be nil.
func NewSession(guildID string, runner MatchRunner, equipper Equipper, betting *BettingService, events pubsub.Publisher, rng *rand.Rand, opts SessionOptions) *Session {
	if events == nil {
		events = pubsub.Discard{}
	}
	if opts.Capacity < 2 {
		opts.Capacity = 2
	}
	return &Session{
		guildID:  guildID,
		runner:   runner,
		equipper: equipper,
		betting:  betting,
		events:   events,
		opts:     opts,
		rng:      rng,
		state:    battle.StateIdle,
		mode:     battle.ModeUnset,
	}
}

// Register enrolls p. The first fighter of an idle session becomes the mode
// chooser. In a team war, team names the roster to join.
func (s *Session) Register(ctx context.Context, p *battle.Participant, team string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return battle.ErrTournamentActive
	}

	switch s.state {
	case battle.StateIdle:
		s.state = battle.StateModeSelect
		s.chooser = p
		s.publishStateLocked()
		return nil

	case battle.StateModeSelect:
		if s.chooser.ID == p.ID {
			return battle.ErrDuplicateRegistration
		}
		return battle.ErrModeSelectPending

	case battle.StateRegistering:
		if s.enrolledLocked(p.ID) {
			return battle.ErrDuplicateRegistration
		}
		if s.mode == battle.ModeTeamWar {
			r := s.rosterLocked(team)
			if r == nil {
				return battle.ErrUnknownTeam
			}
			if len(r.Members) >= s.teamSizeLocked() {
				return battle.ErrTeamFull
			}
			r.Members = append(r.Members, p)
		} else {
			s.queue = append(s.queue, p)
		}
		s.publishStateLocked()

		if !s.fullLocked() {
			return nil
		}
		if err := s.startLocked(ctx); err != nil {
			s.removeLocked(p.ID)
			s.publishStateLocked()
			return err
		}
		return nil
	}
	return battle.ErrTournamentActive
}

// SelectMode is the chooser's one decision. It enrolls the chooser and opens
// registration.
func (s *Session) SelectMode(ctx context.Context, chooserID string, mode battle.Mode, rosterNames []string, team string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return battle.ErrTournamentActive
	}
	if s.state != battle.StateModeSelect {
		return &battle.StateError{Op: "select mode", State: string(s.state)}
	}
	if s.chooser.ID != chooserID {
		return battle.ErrNotChooser
	}
	if _, err := battle.ParseMode(string(mode)); err != nil {
		return err
	}

	switch mode {
	case battle.ModeBracket:
		s.queue = []*battle.Participant{s.chooser}
	case battle.ModeTeamWar:
		rosters := buildRosters(rosterNames)
		var home *battle.Roster
		if team == "" {
			home = rosters[0]
		} else {
			key := slug.Make(team)
			for _, r := range rosters {
				if r.Key == key {
					home = r
				}
			}
		}
		if home == nil {
			return battle.ErrUnknownTeam
		}
		home.Members = append(home.Members, s.chooser)
		s.rosters = rosters
	}

	s.mode = mode
	s.state = battle.StateRegistering
	s.publishStateLocked()
	return nil
}

// Leave withdraws a fighter before the run. A session nobody is left in goes
// back to IDLE.
func (s *Session) Leave(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return battle.ErrTournamentActive
	}

	switch s.state {
	case battle.StateModeSelect:
		if s.chooser.ID != id {
			return battle.ErrNotRegistered
		}
		s.resetLocked()
		return nil

	case battle.StateRegistering:
		if !s.removeLocked(id) {
			return battle.ErrNotRegistered
		}
		if s.entrantCountLocked() == 0 {
			s.resetLocked()
			return nil
		}
		s.publishStateLocked()
		return nil
	}
	return battle.ErrNotRegistered
}

// Start validates the field and launches the run in the background.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	if s.active {
		return battle.ErrTournamentActive
	}
	if s.state != battle.StateRegistering {
		return &battle.StateError{Op: "start", State: string(s.state)}
	}
	if s.entrantCountLocked() < 2 {
		return battle.ErrNotEnoughEntrants
	}
	if s.mode == battle.ModeTeamWar && !evenRosters(s.rosters) {
		return battle.ErrUnevenTeams
	}

	s.state = battle.StateRunning
	mode := s.mode
	queue := cloneParticipants(s.queue)
	rosters := cloneRosters(s.rosters)

	s.launchLocked(ctx, true, func(ctx context.Context) *Outcome {
		if mode == battle.ModeTeamWar {
			return s.runTeamWar(ctx, rosters)
		}
		return s.runBracket(ctx, queue)
	})
	s.publishStateLocked()
	return nil
}

// InstantMatch plays a single 1v1 outside the queue. Without an opponent the
// house fighter stands in.
func (s *Session) InstantMatch(ctx context.Context, challenger, opponent *battle.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active || s.state == battle.StateRunning {
		return battle.ErrTournamentActive
	}
	if opponent == nil {
		opponent = HouseFighter()
	}
	if opponent.ID == challenger.ID {
		return battle.ErrDuplicateRegistration
	}
	challenger, opponent = challenger.Clone(), opponent.Clone()

	s.launchLocked(ctx, false, func(ctx context.Context) *Outcome {
		fighters := []*battle.Participant{challenger, opponent}
		if err := s.reroll(ctx, fighters); err != nil {
			slog.Warn("reroll failed", "guild_id", s.guildID, "error", err)
		}
		return &Outcome{Mode: battle.ModeUnset, Champion: s.playMatch(ctx, challenger, opponent)}
	})
	return nil
}

// launchLocked runs fn on its own goroutine. The run outlives the request
// that started it; only Reset cancels it. A tournament run returns the
// session to IDLE when done; an instant match leaves registration alone.
func (s *Session) launchLocked(ctx context.Context, tournament bool, fn func(context.Context) *Outcome) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.active = true
	s.gen++
	gen := s.gen
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done

	go func() {
		defer close(done)
		defer cancel()

		outcome := fn(runCtx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			return
		}
		if runCtx.Err() == nil {
			s.last = outcome
		}
		if tournament {
			s.resetLocked()
			return
		}
		s.active = false
		s.cancel = nil
		s.publishStateLocked()
	}()
}

// Wait blocks until the current run, if any, has finished.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Reset abandons any run, refunds every stake the market still holds and
// returns to IDLE.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	if s.betting != nil {
		for matchID, refunds := range s.betting.VoidAll(context.WithoutCancel(ctx)) {
			s.publish(pubsub.EventPayouts, payoutsPayload{MatchID: matchID, Voided: true, Payouts: refunds})
		}
	}
	s.last = nil
	s.resetLocked()
}

// Status is a deep copy; the run goroutine re-rolls its own participants.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		GuildID:  s.guildID,
		State:    s.state,
		Mode:     s.mode,
		Chooser:  s.chooser.Clone(),
		Queue:    cloneParticipants(s.queue),
		Rosters:  cloneRosters(s.rosters),
		Capacity: s.opts.Capacity,
		Active:   s.active,
		Last:     s.last.clone(),
	}
}

func (s *Session) runBracket(ctx context.Context, entrants []*battle.Participant) *Outcome {
	if !s.pause(ctx, s.opts.AnnounceDelay) {
		return nil
	}
	entrants = s.shuffled(entrants)
	totalRounds := calcRounds(len(entrants))

	for round := 1; len(entrants) > 1; round++ {
		if err := s.reroll(ctx, entrants); err != nil {
			slog.Warn("reroll failed", "guild_id", s.guildID, "round", round, "error", err)
		}

		pairs, bye := PairRound(entrants)
		s.publish(pubsub.EventRoundStarted, map[string]any{
			"round": round, "total_rounds": totalRounds, "matches": len(pairs),
		})

		winners := make([]*battle.Participant, 0, len(pairs)+1)
		for i, pair := range pairs {
			winners = append(winners, s.playMatch(ctx, pair[0], pair[1]))
			if ctx.Err() != nil {
				return nil
			}
			if i < len(pairs)-1 && !s.pause(ctx, s.opts.MatchCooldown) {
				return nil
			}
		}
		if bye != nil {
			s.publish(pubsub.EventBye, bye.Clone())
			winners = append(winners, bye)
		}

		entrants = winners
		if len(entrants) > 1 && !s.pause(ctx, s.opts.RoundCooldown) {
			return nil
		}
	}

	champion := entrants[0]
	s.publish(pubsub.EventChampion, champion.Clone())
	return &Outcome{Mode: battle.ModeBracket, Champion: champion}
}

func (s *Session) runTeamWar(ctx context.Context, rosters []*battle.Roster) *Outcome {
	if !s.pause(ctx, s.opts.AnnounceDelay) {
		return nil
	}

	var all []*battle.Participant
	for _, r := range rosters {
		r.Members = s.shuffled(r.Members)
		all = append(all, r.Members...)
	}
	if err := s.reroll(ctx, all); err != nil {
		slog.Warn("reroll failed", "guild_id", s.guildID, "error", err)
	}

	home, away := rosters[0], rosters[1]
	tally := map[string]int{home.Key: 0, away.Key: 0}
	for i := range home.Members {
		winner := s.playMatch(ctx, home.Members[i], away.Members[i])
		if ctx.Err() != nil {
			return nil
		}
		if home.Has(winner.ID) {
			tally[home.Key]++
		} else {
			tally[away.Key]++
		}
		if i < len(home.Members)-1 && !s.pause(ctx, s.opts.MatchCooldown) {
			return nil
		}
	}

	out := &Outcome{Mode: battle.ModeTeamWar, Tally: tally}
	switch {
	case tally[home.Key] > tally[away.Key]:
		out.Victor = home.Name
	case tally[away.Key] > tally[home.Key]:
		out.Victor = away.Name
	default:
		out.Draw = true
	}
	s.publish(pubsub.EventTeamWarResult, out)
	return out
}

// playMatch never fails: a match the runner cannot finish is decided by a
// direct draw so the round keeps going.
func (s *Session) playMatch(ctx context.Context, a, b *battle.Participant) *battle.Participant {
	m, err := s.runner.RunMatch(ctx, s.guildID, a, b)
	if err == nil && m != nil && m.Result != nil {
		return m.Result.Winner
	}
	slog.Error("match failed, deciding directly", "guild_id", s.guildID, "a", a.ID, "b", b.ID, "error", err)

	s.rngMu.Lock()
	side := Resolve(a, b, s.rng)
	s.rngMu.Unlock()
	if side == battle.SideA {
		return a
	}
	return b
}

func (s *Session) reroll(ctx context.Context, ps []*battle.Participant) error {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.equipper.Reroll(ctx, ps, s.rng)
}

func (s *Session) shuffled(ps []*battle.Participant) []*battle.Participant {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return Shuffled(ps, s.rng)
}

func (s *Session) pause(ctx context.Context, d time.Duration) bool {
	if s.opts.Debug {
		return ctx.Err() == nil
	}
	return sleep(ctx, d) == nil
}

func (s *Session) publish(eventType string, payload any) {
	s.events.Publish(pubsub.Event{Type: eventType, GuildID: s.guildID, Payload: payload})
}

func (s *Session) publishStateLocked() {
	s.publish(pubsub.EventTournamentState, map[string]any{
		"state": s.state, "mode": s.mode, "entrants": s.entrantCountLocked(),
	})
}

func (s *Session) resetLocked() {
	s.state = battle.StateIdle
	s.mode = battle.ModeUnset
	s.chooser = nil
	s.queue = nil
	s.rosters = nil
	s.active = false
	s.cancel = nil
	s.publishStateLocked()
}

func (s *Session) enrolledLocked(id string) bool {
	for _, p := range s.queue {
		if p.ID == id {
			return true
		}
	}
	for _, r := range s.rosters {
		if r.Has(id) {
			return true
		}
	}
	return false
}

func (s *Session) removeLocked(id string) bool {
	for i, p := range s.queue {
		if p.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	for _, r := range s.rosters {
		for i, p := range r.Members {
			if p.ID == id {
				r.Members = append(r.Members[:i], r.Members[i+1:]...)
				return true
			}
		}
	}
	return false
}

func (s *Session) entrantCountLocked() int {
	n := len(s.queue)
	for _, r := range s.rosters {
		n += len(r.Members)
	}
	return n
}

// teamSizeLocked is how many fighters one roster holds at capacity.
func (s *Session) teamSizeLocked() int {
	return s.opts.Capacity / max(len(s.rosters), 1)
}

// fullLocked reports whether the field is complete and the run should start.
func (s *Session) fullLocked() bool {
	if s.mode != battle.ModeTeamWar {
		return s.entrantCountLocked() >= s.opts.Capacity
	}
	for _, r := range s.rosters {
		if len(r.Members) < s.teamSizeLocked() {
			return false
		}
	}
	return true
}

func (s *Session) rosterLocked(name string) *battle.Roster {
	key := slug.Make(name)
	for _, r := range s.rosters {
		if r.Key == key {
			return r
		}
	}
	return nil
}

func buildRosters(names []string) []*battle.Roster {
	var rosters []*battle.Roster
	seen := map[string]bool{}
	for _, n := range names {
		key := slug.Make(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		rosters = append(rosters, &battle.Roster{Key: key, Name: n})
		if len(rosters) == 2 {
			break
		}
	}
	if len(rosters) < 2 {
		return buildRosters(DefaultRosterNames)
	}
	return rosters
}

func evenRosters(rosters []*battle.Roster) bool {
	if len(rosters) != 2 {
		return false
	}
	a, b := len(rosters[0].Members), len(rosters[1].Members)
	return a > 0 && a == b
}

func (o *Outcome) clone() *Outcome {
	if o == nil {
		return nil
	}
	c := *o
	c.Champion = o.Champion.Clone()
	if o.Tally != nil {
		c.Tally = make(map[string]int, len(o.Tally))
		for k, v := range o.Tally {
			c.Tally[k] = v
		}
	}
	return &c
}

func cloneParticipants(ps []*battle.Participant) []*battle.Participant {
	if ps == nil {
		return nil
	}
	out := make([]*battle.Participant, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Clone())
	}
	return out
}

func cloneRosters(rosters []*battle.Roster) []*battle.Roster {
	out := make([]*battle.Roster, 0, len(rosters))
	for _, r := range rosters {
		out = append(out, &battle.Roster{Key: r.Key, Name: r.Name, Members: cloneParticipants(r.Members)})
	}
	return out
}
