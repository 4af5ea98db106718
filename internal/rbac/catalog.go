package rbac

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Entry describes one catalog permission.
type Entry struct {
	Key        Key    `json:"key"`
	DisplayKey string `json:"display_key"`
	Category   string `json:"category"`
}

// Catalog is the immutable registry of known permission keys.
type Catalog struct {
	entries    []Entry
	index      map[Key]int
	categories map[string]string
}

// NewCatalog validates entries and builds a Catalog. Category labels missing
// from categories are derived from the category key.
func NewCatalog(entries []Entry, categories map[string]string) (*Catalog, error) {
	c := &Catalog{
		entries:    make([]Entry, 0, len(entries)),
		index:      make(map[Key]int, len(entries)),
		categories: make(map[string]string, len(categories)),
	}
	for k, v := range categories {
		c.categories[k] = v
	}
	for _, e := range entries {
		e.Key = normalizeKey(string(e.Key))
		if e.Key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrInvalidCatalog)
		}
		if _, dup := c.index[e.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidCatalog, e.Key)
		}
		if e.DisplayKey == "" {
			e.DisplayKey = "permissions." + string(e.Key)
		}
		if e.Category == "" {
			e.Category = "general"
		}
		if _, ok := c.categories[e.Category]; !ok {
			c.categories[e.Category] = categoryLabel(e.Category)
		}
		c.index[e.Key] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// MustCatalog panics when entries are invalid. Intended for static catalogs.
func MustCatalog(entries []Entry, categories map[string]string) *Catalog {
	c, err := NewCatalog(entries, categories)
	if err != nil {
		panic(err)
	}
	return c
}

// List returns the entries in catalog order.
func (c *Catalog) List() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Categories returns category key to label.
func (c *Catalog) Categories() map[string]string {
	if c == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(c.categories))
	for k, v := range c.categories {
		out[k] = v
	}
	return out
}

// ByCategory groups entries by category, preserving catalog order inside each group.
func (c *Catalog) ByCategory() map[string][]Entry {
	out := make(map[string][]Entry)
	if c == nil {
		return out
	}
	for _, e := range c.entries {
		out[e.Category] = append(out[e.Category], e)
	}
	return out
}

// All returns every key in catalog order.
func (c *Catalog) All() []Key {
	if c == nil {
		return nil
	}
	keys := make([]Key, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.Key
	}
	return keys
}

// Len reports the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Contains reports whether key is known.
func (c *Catalog) Contains(key Key) bool {
	if c == nil {
		return false
	}
	_, ok := c.index[key]
	return ok
}

// Entry looks up a single entry.
func (c *Catalog) Entry(key Key) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	i, ok := c.index[key]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Parse converts raw input into a known Key.
func (c *Catalog) Parse(raw string) (Key, error) {
	key := normalizeKey(raw)
	if !c.Contains(key) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, raw)
	}
	return key, nil
}

// ParseAll parses and deduplicates raw keys, failing on the first unknown key.
func (c *Catalog) ParseAll(raw []string) ([]Key, error) {
	seen := make(map[Key]struct{}, len(raw))
	keys := make([]Key, 0, len(raw))
	for _, r := range raw {
		key, err := c.Parse(r)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys, nil
}

// Known filters keys down to those present in the catalog and returns the
// rejected ones separately.
func (c *Catalog) Known(keys []Key) (known []Key, unknown []Key) {
	for _, k := range keys {
		if c.Contains(k) {
			known = append(known, k)
		} else {
			unknown = append(unknown, k)
		}
	}
	return known, unknown
}

func normalizeKey(raw string) Key {
	return Key(strings.TrimSpace(strings.ToLower(raw)))
}

func categoryLabel(category string) string {
	words := strings.FieldsFunc(category, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	return cases.Title(language.English).String(strings.Join(words, " "))
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
