package rbac

// EffectiveSet is the derived set of keys an identity holds in one account.
type EffectiveSet struct {
	keys map[Key]Provenance
}

// EmptySet returns the fail-closed effective set.
func EmptySet() EffectiveSet {
	return EffectiveSet{}
}

// Has reports whether key is granted.
func (s EffectiveSet) Has(key Key) bool {
	_, ok := s.keys[key]
	return ok
}

// HasAny reports whether at least one key is granted. No keys yields false.
func (s EffectiveSet) HasAny(keys ...Key) bool {
	for _, k := range keys {
		if s.Has(k) {
			return true
		}
	}
	return false
}

// HasAll reports whether every key is granted. No keys yields true.
func (s EffectiveSet) HasAll(keys ...Key) bool {
	for _, k := range keys {
		if !s.Has(k) {
			return false
		}
	}
	return true
}

// Provenance returns why key is granted.
func (s EffectiveSet) Provenance(key Key) (Provenance, bool) {
	p, ok := s.keys[key]
	return p, ok
}

// Keys returns the granted keys sorted.
func (s EffectiveSet) Keys() []Key {
	keys := make([]Key, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// Len reports the number of granted keys.
func (s EffectiveSet) Len() int {
	return len(s.keys)
}

// ProvenanceMap returns a copy of the key to provenance map.
func (s EffectiveSet) ProvenanceMap() map[Key]Provenance {
	out := make(map[Key]Provenance, len(s.keys))
	for k, v := range s.keys {
		out[k] = v
	}
	return out
}

// Resolution is the outcome of Resolve, including keys dropped for being
// unknown to the catalog.
type Resolution struct {
	Set     EffectiveSet
	Dropped []Key
}

// Resolve computes the effective set for identity within the membership. It
// performs no I/O. A nil catalog resolves to the empty set for everyone.
//
// Order: anonymous, staff/superuser bypass, missing membership, owner bypass,
// then role defaults plus individual grants. Role provenance wins when a key
// is both a role default and an individual grant.
func Resolve(catalog *Catalog, identity *Identity, membership *Membership) Resolution {
	if identity == nil || catalog.Len() == 0 {
		return Resolution{Set: EmptySet()}
	}
	if identity.Bypass() {
		return Resolution{Set: fullSet(catalog)}
	}
	if membership == nil {
		return Resolution{Set: EmptySet()}
	}
	if membership.IsOwner {
		return Resolution{Set: fullSet(catalog)}
	}
	keys := make(map[Key]Provenance)
	var dropped []Key
	for _, k := range membership.IndividualGrants {
		if !catalog.Contains(k) {
			dropped = append(dropped, k)
			continue
		}
		keys[k] = ProvenanceIndividual
	}
	for _, k := range RoleDefaults(membership.Role) {
		if !catalog.Contains(k) {
			continue
		}
		keys[k] = ProvenanceRole
	}
	return Resolution{Set: EffectiveSet{keys: keys}, Dropped: dropped}
}

// NewEffectiveSet builds a set from explicit provenance, ignoring keys the
// catalog does not know.
func NewEffectiveSet(catalog *Catalog, keys map[Key]Provenance) EffectiveSet {
	out := make(map[Key]Provenance, len(keys))
	for k, p := range keys {
		if catalog.Contains(k) {
			out[k] = p
		}
	}
	return EffectiveSet{keys: out}
}

func fullSet(catalog *Catalog) EffectiveSet {
	keys := make(map[Key]Provenance, catalog.Len())
	for _, k := range catalog.All() {
		keys[k] = ProvenanceRole
	}
	return EffectiveSet{keys: keys}
}
