package generation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/AdamBeresnev/parlor/internal/battle"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const NarratorFallback = "The narrator is unavailable."

// Styles are the personas the narrator speaks as.
var Styles = []string{
	"a gritty noir detective",
	"a hype-man for a wrestling match",
	"a wise old sage recounting a legend",
	"a fast-talking sports commentator",
	"a dramatic movie trailer voice",
	"a poetic bard",
	"a cyberpunk hacker describing a glitch",
	"a nature documentary narrator",
}

// TextProvider completes a system/user prompt pair.
type TextProvider interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

type ChatConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
}

// ChatText talks to any OpenAI-compatible chat completion endpoint.
type ChatText struct {
	client openai.Client
	cfg    ChatConfig
}

func NewChatText(cfg ChatConfig) *ChatText {
	if cfg.Model == "" {
		cfg.Model = "meta/llama-3.1-405b-instruct"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &ChatText{client: openai.NewClient(opts...), cfg: cfg}
}

func (c *ChatText) Generate(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       openai.ChatModel(c.cfg.Model),
		MaxTokens:   openai.Int(c.cfg.MaxTokens),
		Temperature: openai.Float(c.cfg.Temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Narrator writes the line for one scene. ok is false when the text is a
// fallback rather than real narration.
type Narrator interface {
	Narrate(ctx context.Context, phase Phase, brief MatchBrief) (text string, ok bool)
}

// ChatNarrator prompts a text model in a persona. An empty Style picks a
// random persona per call.
type ChatNarrator struct {
	Text  TextProvider
	Style string
}

func (n *ChatNarrator) Narrate(ctx context.Context, phase Phase, brief MatchBrief) (string, bool) {
	style := n.Style
	if style == "" {
		style = Styles[rand.IntN(len(Styles))]
	}
	system, user := narrationPrompts(style, phase, brief)

	text, err := n.Text.Generate(ctx, system, user)
	if err != nil || text == "" {
		slog.Warn("narration failed", "phase", phase, "error", err)
		return NarratorFallback, false
	}
	return text, true
}

func narrationPrompts(style string, phase Phase, b MatchBrief) (string, string) {
	a, o := b.A.DisplayName, b.B.DisplayName
	switch phase {
	case PhaseMeeting:
		return fmt.Sprintf("You are %s. Describe the moment two fighters spot each other in a %s. Max 2 sentences. Suspenseful and visual.", style, b.Theme),
			fmt.Sprintf("%s sees their opponent %s across the arena.", a, o)
	case PhaseClash:
		return fmt.Sprintf("You are %s. Describe the heat of the battle. A story of the clash. Max 2 sentences. High energy.", style),
			fmt.Sprintf("Describe the intense fight between %s and %s.", a, o)
	default:
		return fmt.Sprintf("You are %s. Declare the winner of the fight. Max 2 sentences. Epic conclusion.", style),
			fmt.Sprintf("%s has defeated %s.", b.Winner().DisplayName, b.Loser().DisplayName)
	}
}

var (
	meetingTemplates = []string{
		"{a} locks eyes with {b}! The air crackles with tension!",
		"It's {a} vs {b} in the {theme}!",
		"{a} steps into the {theme}, ready to crush {b}!",
		"The crowd goes silent as {a} and {b} face off!",
		"{a} sneers at {b}. This is going to be ugly!",
		"In the red corner: {a}! In the blue corner: {b}!",
		"The {theme} isn't big enough for both {a} and {b}!",
	}
	clashTemplates = []string{
		"BAM! {a} lands a massive hit on {b}!",
		"KA-POW! {b} gets sent flying by {a}!",
		"{a} and {b} are tearing the {theme} apart!",
		"ZAP! {a} unleashes a secret move!",
		"SMASH! {b} is on the ropes!",
		"{a} is relentless! {b} is struggling to keep up!",
	}
	victoryTemplates = []string{
		"{winner} stands triumphant! What a victory!",
		"{winner} is the champion of the {theme}!",
		"Flawless victory for {winner}!",
		"{loser} is down for the count! {winner} wins!",
		"Game over for {loser}! {winner} reigns supreme!",
		"And the winner is... {winner}!",
	}
)

// TemplateNarrator needs no network. It is used when no text model is
// configured and by the simulator.
type TemplateNarrator struct{}

func (TemplateNarrator) Narrate(_ context.Context, phase Phase, b MatchBrief) (string, bool) {
	var pool []string
	switch phase {
	case PhaseMeeting:
		pool = meetingTemplates
	case PhaseClash:
		pool = clashTemplates
	default:
		pool = victoryTemplates
	}
	r := strings.NewReplacer(
		"{a}", b.A.DisplayName,
		"{b}", b.B.DisplayName,
		"{theme}", b.Theme,
		"{winner}", b.Winner().DisplayName,
		"{loser}", b.Loser().DisplayName,
	)
	return r.Replace(pool[rand.IntN(len(pool))]), true
}

// MatchBrief is everything the presentation needs to know about a match.
type MatchBrief struct {
	A, B       *battle.Participant
	WinnerSide battle.Side
	Theme      string
}

func (b MatchBrief) Winner() *battle.Participant {
	if b.WinnerSide == battle.SideB {
		return b.B
	}
	return b.A
}

func (b MatchBrief) Loser() *battle.Participant {
	if b.WinnerSide == battle.SideB {
		return b.A
	}
	return b.B
}
