package domain

type Feature string

const (
	FeaturePermit          Feature = "permit"
	FeaturePushToTalk      Feature = "ptt"
	FeaturePrioritySpeaker Feature = "priority_speaker"
	FeatureSoundboard      Feature = "soundboard"
)

// FeatureFamily maps a stored feature to the permission it drives. With
// Invert set, an enabled row denies the permission instead of granting it.
type FeatureFamily struct {
	Feature    Feature
	Table      string
	Permission Permission
	Invert     bool
}

// Apply records the family's decision for one target.
func (f FeatureFamily) Apply(set *OverwriteSet, id TargetID, typ TargetType, enabled bool) {
	if enabled != f.Invert {
		set.Allow(id, typ, f.Permission)
		return
	}
	set.Deny(id, typ, f.Permission)
}

// AccessFamily holds the connect permit/deny entries. The resolver applies it
// before the lock flag so the lock always has the last word on everyone.
var AccessFamily = FeatureFamily{
	Feature:    FeaturePermit,
	Table:      "permit_overrides",
	Permission: PermConnect,
}

// FeatureFamilies are applied after the lock, each independently.
//
// Push-to-talk is inverted on purpose: "enabled" means members must use
// push-to-talk, which the platform expresses as denying voice activity.
var FeatureFamilies = []FeatureFamily{
	{Feature: FeaturePushToTalk, Table: "ptt_overrides", Permission: PermUseVAD, Invert: true},
	{Feature: FeaturePrioritySpeaker, Table: "priority_speaker_overrides", Permission: PermPrioritySpeaker},
	{Feature: FeatureSoundboard, Table: "soundboard_overrides", Permission: PermUseSoundboard},
}

// AllFamilies lists every stored family, access first.
func AllFamilies() []FeatureFamily {
	out := make([]FeatureFamily, 0, len(FeatureFamilies)+1)
	out = append(out, AccessFamily)
	return append(out, FeatureFamilies...)
}

// FamilyFor looks up the family of a feature.
func FamilyFor(f Feature) (FeatureFamily, bool) {
	for _, fam := range AllFamilies() {
		if fam.Feature == f {
			return fam, true
		}
	}
	return FeatureFamily{}, false
}
