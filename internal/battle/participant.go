package battle

// Tier is the fallback sub-tier of a participant that has no asset equipped.
type Tier string

const (
	TierNone   Tier = ""
	TierPrime  Tier = "prime"
	TierCommon Tier = "common"
)

// Dominates reports whether t beats other when both fighters are in fallback mode.
func (t Tier) Dominates(other Tier) bool {
	return t == TierPrime && other == TierCommon
}

// Asset is a collectible a participant can equip for a round. Lower rarity
// ranks are rarer.
type Asset struct {
	Name       string `json:"name"`
	ImageURL   string `json:"image_url,omitempty"`
	RarityRank int    `json:"rarity_rank"`
}

type Participant struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	AvatarURL   string  `json:"avatar_url,omitempty"`
	Asset       *Asset  `json:"asset,omitempty"`
	Tier        Tier    `json:"tier,omitempty"`
	Bonus       float64 `json:"bonus,omitempty"`
}

// InFallback is true when no asset is equipped.
func (p *Participant) InFallback() bool {
	return p.Asset == nil
}

// PortraitURL is the image used as visual reference for the participant:
// the equipped asset's art when present, the avatar otherwise.
func (p *Participant) PortraitURL() string {
	if p.Asset != nil && p.Asset.ImageURL != "" {
		return p.Asset.ImageURL
	}
	return p.AvatarURL
}

// Clone copies p, including the equipped asset, so the copy can be read while
// the original is re-rolled.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	c := *p
	if p.Asset != nil {
		a := *p.Asset
		c.Asset = &a
	}
	return &c
}
