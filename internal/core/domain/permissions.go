package domain

// Permission is a bitset of room permissions. Bit positions follow the chat
// platform's permission layout so overwrites can be handed over unchanged.
type Permission uint64

const (
	PermManageChannels  Permission = 1 << 4
	PermPrioritySpeaker Permission = 1 << 8
	PermViewChannel     Permission = 1 << 10
	PermConnect         Permission = 1 << 20
	PermSpeak           Permission = 1 << 21
	PermMoveMembers     Permission = 1 << 24
	PermUseVAD          Permission = 1 << 25
	PermManageRoles     Permission = 1 << 28
	PermUseSoundboard   Permission = 1 << 42
)

// OwnerGrant is what a room owner receives on their own room.
const OwnerGrant = PermConnect | PermSpeak | PermViewChannel | PermManageChannels | PermMoveMembers

func (p Permission) Has(bit Permission) bool { return p&bit == bit }

// Overwrite is the per-target allow/deny pair applied to a room.
type Overwrite struct {
	TargetID   TargetID   `json:"target_id"`
	TargetType TargetType `json:"target_type"`
	Allow      Permission `json:"allow"`
	Deny       Permission `json:"deny"`
}

type overwriteKey struct {
	id  TargetID
	typ TargetType
}

// OverwriteSet accumulates overwrites keyed by target, keeping insertion order
// so the resulting list is deterministic.
type OverwriteSet struct {
	index map[overwriteKey]int
	list  []Overwrite
}

func NewOverwriteSet() *OverwriteSet {
	return &OverwriteSet{index: make(map[overwriteKey]int)}
}

func (s *OverwriteSet) entry(id TargetID, typ TargetType) *Overwrite {
	k := overwriteKey{id: id, typ: typ}
	if i, ok := s.index[k]; ok {
		return &s.list[i]
	}
	s.list = append(s.list, Overwrite{TargetID: id, TargetType: typ})
	s.index[k] = len(s.list) - 1
	return &s.list[len(s.list)-1]
}

// Allow grants bits to the target, dropping any deny on the same bits.
func (s *OverwriteSet) Allow(id TargetID, typ TargetType, bits Permission) {
	ow := s.entry(id, typ)
	ow.Allow |= bits
	ow.Deny &^= bits
}

// Deny denies bits to the target, dropping any allow on the same bits.
func (s *OverwriteSet) Deny(id TargetID, typ TargetType, bits Permission) {
	ow := s.entry(id, typ)
	ow.Deny |= bits
	ow.Allow &^= bits
}

// Get returns the overwrite for a target, if one was recorded.
func (s *OverwriteSet) Get(id TargetID, typ TargetType) (Overwrite, bool) {
	i, ok := s.index[overwriteKey{id: id, typ: typ}]
	if !ok {
		return Overwrite{}, false
	}
	return s.list[i], true
}

func (s *OverwriteSet) Len() int { return len(s.list) }

// List returns the overwrites with empty entries removed.
func (s *OverwriteSet) List() []Overwrite {
	out := make([]Overwrite, 0, len(s.list))
	for _, ow := range s.list {
		if ow.Allow == 0 && ow.Deny == 0 {
			continue
		}
		out = append(out, ow)
	}
	return out
}
