package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/AdamBeresnev/parlor/internal/config"
	"github.com/AdamBeresnev/parlor/internal/generation"
	"github.com/AdamBeresnev/parlor/internal/pubsub"
	"github.com/AdamBeresnev/parlor/internal/random"
	"github.com/AdamBeresnev/parlor/internal/service"
	"github.com/AdamBeresnev/parlor/internal/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type simulateOptions struct {
	*rootOptions
	Entrants      int
	Mode          string
	Seed          uint64
	Bettors       int
	Theme         string
	FailurePolicy string
}

func newSimulateCommand(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a debug tournament with synthetic fighters",
		Long: `Run a whole tournament offline: synthetic fighters, template narration,
no image providers and no delays. Bettors wager on every match from an
in-memory ledger.

Example:
  arenactl simulate --entrants 5 --seed 7
  arenactl simulate --mode team_war --entrants 6 --bettors 3 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.Entrants, "entrants", 8, "number of synthetic fighters")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(battle.ModeBracket), "tournament mode (bracket|team_war)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "random seed, 0 picks one")
	cmd.Flags().IntVar(&opts.Bettors, "bettors", 2, "number of simulated bettors")
	cmd.Flags().StringVar(&opts.Theme, "theme", "Cyberpunk Alleyway", "battle theme")
	cmd.Flags().StringVar(&opts.FailurePolicy, "failure-policy", config.FailureContinue, "what happens to bets when a presentation fails (continue|void)")

	return cmd
}

// simulation is the report printed at the end of a run.
type simulation struct {
	Seed     uint64                     `json:"seed"`
	Outcome  *service.Outcome           `json:"outcome"`
	Matches  int                        `json:"matches"`
	Balances map[string]decimal.Decimal `json:"balances"`
	Events   []pubsub.Event             `json:"events,omitempty"`
}

// recorder keeps events in order and lets bettors react while a market is
// still open.
type recorder struct {
	events  []pubsub.Event
	onMatch func(*battle.Match)
}

func (r *recorder) Publish(e pubsub.Event) {
	r.events = append(r.events, e)
	if m, ok := e.Payload.(*battle.Match); ok && e.Type == pubsub.EventMatchStarted && r.onMatch != nil {
		r.onMatch(m)
	}
}

func runSimulation(ctx context.Context, opts *simulateOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mode, err := battle.ParseMode(opts.Mode)
	if err != nil {
		return err
	}
	if opts.Entrants < 2 {
		return battle.ErrNotEnoughEntrants
	}
	if mode == battle.ModeTeamWar && opts.Entrants%2 != 0 {
		return battle.ErrUnevenTeams
	}
	seed := opts.Seed
	if seed == 0 {
		if seed, err = random.NewSeed(); err != nil {
			return err
		}
	}

	fighters, assets := service.DebugFixtures(opts.Entrants)
	ledger := store.NewMemoryLedger(decimal.NewFromInt(1000))
	betting := service.NewBettingService(service.NewMarket(), ledger, service.BetLimits{Min: decimal.NewFromInt(1)})

	rec := &recorder{}
	bettors := make([]string, opts.Bettors)
	for i := range bettors {
		bettors[i] = fmt.Sprintf("bettor-%d", i+1)
	}
	betRNG := random.Seeded(seed + 1)
	matches := 0
	rec.onMatch = func(m *battle.Match) {
		matches++
		placeBets(ctx, betting, m, bettors, betRNG)
	}

	matchSvc := service.NewMatchService(betting, &generation.Presenter{Narrator: generation.TemplateNarrator{}}, rec, nil, nil, random.Seeded(seed), service.MatchOptions{
		Theme:          opts.Theme,
		BettingEnabled: opts.Bettors > 0,
		FailurePolicy:  opts.FailurePolicy,
		Debug:          true,
	})
	session := service.NewSession("simulator", matchSvc, service.Equipper{Source: assets}, betting, rec, random.Seeded(seed+2), service.SessionOptions{
		Capacity: len(fighters),
		Debug:    true,
	})

	// The last registration fills the field and starts the run.
	if err := enroll(ctx, session, mode, fighters); err != nil {
		return err
	}
	session.Wait()

	report := simulation{
		Seed:     seed,
		Outcome:  session.Status().Last,
		Matches:  matches,
		Balances: map[string]decimal.Decimal{},
		Events:   rec.events,
	}
	for _, b := range bettors {
		if report.Balances[b], err = ledger.Balance(ctx, b); err != nil {
			return err
		}
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printReport(out, report)
}

// enroll walks the fighters through registration. In a team war they
// alternate between the two default rosters.
func enroll(ctx context.Context, s *service.Session, mode battle.Mode, fighters []*battle.Participant) error {
	chooser := fighters[0]
	if err := s.Register(ctx, chooser, ""); err != nil {
		return err
	}
	if err := s.SelectMode(ctx, chooser.ID, mode, service.DefaultRosterNames, ""); err != nil {
		return err
	}
	for i, f := range fighters[1:] {
		team := service.DefaultRosterNames[(i+1)%2]
		if err := s.Register(ctx, f, team); err != nil {
			return fmt.Errorf("register %s: %w", f.ID, err)
		}
	}
	return nil
}

// placeBets has every bettor back a random side with up to a fifth of their
// balance; one bettor in four goes all in.
func placeBets(ctx context.Context, betting *service.BettingService, m *battle.Match, bettors []string, rng *rand.Rand) {
	for _, b := range bettors {
		side := battle.SideA
		if rng.IntN(2) == 1 {
			side = battle.SideB
		}
		stake := service.Stake{AllIn: rng.IntN(4) == 0}
		if !stake.AllIn {
			balance, err := betting.Balance(ctx, b)
			if err != nil || !balance.IsPositive() {
				continue
			}
			limit := balance.Div(decimal.NewFromInt(5)).IntPart()
			stake.Amount = decimal.NewFromInt(1 + rng.Int64N(max(limit, 1)))
		}
		// Broke bettors sit the match out.
		_, _ = betting.PlaceBet(ctx, m.ID, b, stake, side)
	}
}

func printReport(out io.Writer, r simulation) error {
	fmt.Fprintf(out, "seed %d, %d matches\n", r.Seed, r.Matches)
	for _, e := range r.Events {
		switch e.Type {
		case pubsub.EventMatchFinished:
			m := e.Payload.(*battle.Match)
			fmt.Fprintf(out, "  %s beat %s\n", m.Result.Winner.DisplayName, m.Result.Loser.DisplayName)
		case pubsub.EventBye:
			fmt.Fprintf(out, "  %s advances on a bye\n", e.Payload.(*battle.Participant).DisplayName)
		}
	}

	switch {
	case r.Outcome == nil:
		fmt.Fprintln(out, "no outcome")
	case r.Outcome.Champion != nil:
		fmt.Fprintf(out, "champion: %s\n", r.Outcome.Champion.DisplayName)
	case r.Outcome.Draw:
		fmt.Fprintf(out, "team war drawn %v\n", r.Outcome.Tally)
	default:
		fmt.Fprintf(out, "team war won by %s %v\n", r.Outcome.Victor, r.Outcome.Tally)
	}

	names := make([]string, 0, len(r.Balances))
	for name := range r.Balances {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s: %s\n", name, r.Balances[name].StringFixed(2))
	}
	return nil
}
