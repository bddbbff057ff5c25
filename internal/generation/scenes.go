package generation

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Phase string

const (
	PhaseMeeting Phase = "meeting"
	PhaseClash   Phase = "clash"
	PhaseVictory Phase = "victory"
)

var Phases = []Phase{PhaseMeeting, PhaseClash, PhaseVictory}

const DefaultCollectionStyle = "high quality comic book art, dynamic action shot, vibrant colors, " +
	"detailed background, expressive characters, clean lines, cinematic lighting, " +
	"graphic novel style, highly detailed"

var ActionVerbs = []string{"punching", "kicking", "blasting", "slamming", "dodging", "striking", "grappling"}

type Scene struct {
	MatchID  uuid.UUID `json:"match_id"`
	Phase    Phase     `json:"phase"`
	Text     string    `json:"text"`
	Narrated bool      `json:"narrated"`
	Image    *Image    `json:"-"`
	ImageErr error     `json:"-"`
}

// SceneSink receives each scene as soon as it is ready. Returning an error
// stops the presentation.
type SceneSink func(ctx context.Context, s Scene) error

type Presentation struct {
	Scenes []Scene
}

// Failed is true when nothing was produced: no scene got an image and every
// line is a fallback.
func (p Presentation) Failed() bool {
	for _, s := range p.Scenes {
		if s.Image != nil || s.Narrated {
			return false
		}
	}
	return true
}

type Presenter struct {
	Images    ImageGenerator
	Narrator  Narrator
	Describer Describer
	// Style is appended to every image prompt.
	Style              string
	PreferHighFidelity bool
}

// Present produces the three scenes in order. Narration for all of them
// starts immediately; each scene then waits for its own text, generates its
// image and is handed to sink before the next one begins.
func (p *Presenter) Present(ctx context.Context, matchID uuid.UUID, brief MatchBrief, sink SceneSink) (Presentation, error) {
	var descA, descB string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		descA = describeOrDefault(gctx, p.Describer, brief.A.PortraitURL())
		return nil
	})
	g.Go(func() error {
		descB = describeOrDefault(gctx, p.Describer, brief.B.PortraitURL())
		return nil
	})
	_ = g.Wait()

	type line struct {
		text string
		ok   bool
	}
	lines := make(map[Phase]chan line, len(Phases))
	for _, phase := range Phases {
		ch := make(chan line, 1)
		lines[phase] = ch
		go func() {
			text, ok := p.narrator().Narrate(ctx, phase, brief)
			ch <- line{text, ok}
		}()
	}

	prompts := p.prompts(brief, descA, descB)
	var out Presentation
	for _, phase := range Phases {
		var l line
		select {
		case l = <-lines[phase]:
		case <-ctx.Done():
			return out, ctx.Err()
		}

		scene := Scene{MatchID: matchID, Phase: phase, Text: l.text, Narrated: l.ok}
		if p.Images != nil {
			res := p.Images.GenerateImage(ctx, ImageRequest{
				Prompt:             prompts[phase],
				ReferenceURL:       referenceFor(phase, brief),
				PreferHighFidelity: p.PreferHighFidelity,
			})
			scene.Image, scene.ImageErr = res.Image, res.Err
		} else {
			scene.ImageErr = ErrNoProviders
		}

		out.Scenes = append(out.Scenes, scene)
		if sink != nil {
			if err := sink(ctx, scene); err != nil {
				return out, fmt.Errorf("deliver %s scene: %w", phase, err)
			}
		}
	}
	return out, nil
}

func (p *Presenter) narrator() Narrator {
	if p.Narrator == nil {
		return TemplateNarrator{}
	}
	return p.Narrator
}

func (p *Presenter) prompts(b MatchBrief, descA, descB string) map[Phase]string {
	style := p.Style
	if style == "" {
		style = DefaultCollectionStyle
	}
	verb := ActionVerbs[rand.IntN(len(ActionVerbs))]

	descWinner, descLoser := descA, descB
	if b.Winner() == b.B {
		descWinner, descLoser = descB, descA
	}
	return map[Phase]string{
		PhaseMeeting: fmt.Sprintf("A comic book panel of (%s) and (%s) staring each other down in a %s, tense atmosphere, split screen composition. %s",
			descA, descB, b.Theme, style),
		PhaseClash: fmt.Sprintf("A dynamic comic book panel of (%s) %s (%s) in a %s, action lines, impact frames, explosion background. %s",
			descA, verb, descB, b.Theme, style),
		PhaseVictory: fmt.Sprintf("A comic book panel of (%s) standing victorious over a defeated (%s) lying on the ground, triumphant pose, in a %s. %s",
			descWinner, descLoser, b.Theme, style),
	}
}

// The meeting and clash follow A's look; the victory follows the winner's.
func referenceFor(phase Phase, b MatchBrief) string {
	if phase == PhaseVictory {
		return b.Winner().PortraitURL()
	}
	return b.A.PortraitURL()
}
