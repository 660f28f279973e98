package diff

import (
	"slices"
	"sort"

	"github.com/mesh-intelligence/concord/pkg/types"
)

// Configuration is an equivalence class of identical annotations at one
// position.
type Configuration struct {
	Position Position
	// Representative is the first member in owner order.
	Representative Ref
	// Members maps each owner to the ids of its members, in set order.
	Members map[string][]types.ID

	refs map[string][]Ref
}

func newConfiguration(pos Position, r Ref) *Configuration {
	c := &Configuration{
		Position:       pos,
		Representative: r,
		Members:        make(map[string][]types.ID),
		refs:           make(map[string][]Ref),
	}
	c.add(r)
	return c
}

func (c *Configuration) add(r Ref) {
	c.Members[r.Owner] = append(c.Members[r.Owner], r.ID())
	c.refs[r.Owner] = append(c.refs[r.Owner], r)
}

// Owners returns the member owners, sorted.
func (c *Configuration) Owners() []string {
	return sortedKeys(c.Members)
}

// Has reports whether owner contributed to the configuration.
func (c *Configuration) Has(owner string) bool {
	return len(c.Members[owner]) > 0
}

// ID returns owner's first member id.
func (c *Configuration) ID(owner string) (types.ID, bool) {
	ids := c.Members[owner]
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

// Ref returns owner's first member.
func (c *Configuration) Ref(owner string) (Ref, bool) {
	refs := c.refs[owner]
	if len(refs) == 0 {
		return Ref{}, false
	}
	return refs[0], true
}

// Size returns the number of member annotations.
func (c *Configuration) Size() int {
	n := 0
	for _, ids := range c.Members {
		n += len(ids)
	}
	return n
}

// ConfigurationSet holds every configuration found at one position across
// all owners.
type ConfigurationSet struct {
	Position       Position
	Configurations []*Configuration
	// Stacked is set when one owner contributed more than one annotation.
	Stacked bool

	owners map[string]int
}

func newConfigurationSet(pos Position) *ConfigurationSet {
	return &ConfigurationSet{Position: pos, owners: make(map[string]int)}
}

// add places r into the first configuration whose representative is
// identical, or opens a new one. Equality is transitive, so comparing with
// the representative alone is sufficient.
func (cs *ConfigurationSet) add(r Ref, cmp *Comparer) {
	cs.owners[r.Owner]++
	if cs.owners[r.Owner] > 1 {
		cs.Stacked = true
	}
	for _, c := range cs.Configurations {
		if cmp.Identical(c.Representative, r) {
			c.add(r)
			return
		}
	}
	cs.Configurations = append(cs.Configurations, newConfiguration(cs.Position, r))
}

// Owners returns the owners that contributed any annotation, sorted.
func (cs *ConfigurationSet) Owners() []string {
	return sortedKeys(cs.owners)
}

// Contributors returns the number of contributing owners.
func (cs *ConfigurationSet) Contributors() int {
	return len(cs.owners)
}

// HasOwner reports whether owner contributed to this position.
func (cs *ConfigurationSet) HasOwner(owner string) bool {
	return cs.owners[owner] > 0
}

// Complete reports whether the contributing owners are exactly roster.
func (cs *ConfigurationSet) Complete(roster []string) bool {
	seen := 0
	for _, o := range dedupe(roster) {
		if cs.owners[o] == 0 {
			return false
		}
		seen++
	}
	return seen == len(cs.owners)
}

// Agreement reports whether exactly one configuration exists.
func (cs *ConfigurationSet) Agreement() bool {
	return len(cs.Configurations) == 1
}

// ConfigurationsOf returns the configurations owner contributed to.
func (cs *ConfigurationSet) ConfigurationsOf(owner string) []*Configuration {
	var out []*Configuration
	for _, c := range cs.Configurations {
		if c.Has(owner) {
			out = append(out, c)
		}
	}
	return out
}

// Skip records an annotation left out of the diff.
type Skip struct {
	Owner string
	ID    types.ID
	Type  string
	Err   error
}

// Result is the outcome of one diff pass.
type Result struct {
	roster  []string
	sets    map[Position]*ConfigurationSet
	skipped []Skip
}

func newResult(roster []string) *Result {
	r := dedupe(roster)
	sort.Strings(r)
	return &Result{roster: r, sets: make(map[Position]*ConfigurationSet)}
}

func (r *Result) add(pos Position, ref Ref, cmp *Comparer) {
	cs, ok := r.sets[pos]
	if !ok {
		cs = newConfigurationSet(pos)
		r.sets[pos] = cs
	}
	cs.add(ref, cmp)
}

// Roster returns the expected owners, sorted.
func (r *Result) Roster() []string {
	return slices.Clone(r.roster)
}

// Len returns the number of positions.
func (r *Result) Len() int {
	return len(r.sets)
}

// Get returns the configuration set at pos.
func (r *Result) Get(pos Position) (*ConfigurationSet, bool) {
	cs, ok := r.sets[pos]
	return cs, ok
}

// Positions returns every position, sorted.
func (r *Result) Positions() []Position {
	ps := make([]Position, 0, len(r.sets))
	for p := range r.sets {
		ps = append(ps, p)
	}
	SortPositions(ps)
	return ps
}

// Sets returns every configuration set in position order.
func (r *Result) Sets() []*ConfigurationSet {
	return r.filter(func(*ConfigurationSet) bool { return true })
}

// Complete returns the sets every roster owner contributed to.
func (r *Result) Complete() []*ConfigurationSet {
	return r.filter(func(cs *ConfigurationSet) bool { return cs.Complete(r.roster) })
}

// Agreeing returns the sets holding exactly one configuration.
func (r *Result) Agreeing() []*ConfigurationSet {
	return r.filter((*ConfigurationSet).Agreement)
}

// Differing returns the sets holding more than one configuration or
// missing a roster owner.
func (r *Result) Differing() []*ConfigurationSet {
	return r.filter(func(cs *ConfigurationSet) bool {
		return !cs.Agreement() || !cs.Complete(r.roster)
	})
}

// StackedSets returns the sets where an owner contributed more than once.
func (r *Result) StackedSets() []*ConfigurationSet {
	return r.filter(func(cs *ConfigurationSet) bool { return cs.Stacked })
}

// Skipped returns the annotations left out of the diff.
func (r *Result) Skipped() []Skip {
	return slices.Clone(r.skipped)
}

func (r *Result) filter(keep func(*ConfigurationSet) bool) []*ConfigurationSet {
	var out []*ConfigurationSet
	for _, p := range r.Positions() {
		if cs := r.sets[p]; keep(cs) {
			out = append(out, cs)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(xs []string) []string {
	seen := make(map[string]bool, len(xs))
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if seen[x] {
			continue
		}
		seen[x] = true
		out = append(out, x)
	}
	return out
}
