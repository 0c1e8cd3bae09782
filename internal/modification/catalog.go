package modification

import (
	"fmt"
	"strings"

	"contentfactory/internal/domain"
)

// Tag is one visual-variation option that can be applied to an image prompt.
type Tag struct {
	Name        string
	Instruction string
}

// Catalog is the fixed, ordered list of tags the engine draws from.
type Catalog struct {
	tags   []Tag
	byName map[string]Tag
}

// DefaultTags is the built-in catalog of eight variations.
var DefaultTags = []Tag{
	{Name: "golden_hour", Instruction: "warm golden-hour lighting"},
	{Name: "low_angle", Instruction: "low-angle perspective"},
	{Name: "close_up", Instruction: "tight close-up framing"},
	{Name: "wide_shot", Instruction: "wide establishing shot"},
	{Name: "pastel_palette", Instruction: "soft pastel color palette"},
	{Name: "high_contrast", Instruction: "high-contrast dramatic shadows"},
	{Name: "shallow_focus", Instruction: "shallow depth of field with blurred background"},
	{Name: "minimal_backdrop", Instruction: "clean minimal backdrop"},
}

// NewCatalog validates tags and returns a catalog preserving their order.
func NewCatalog(tags []Tag) (*Catalog, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: catalog must contain at least one tag", domain.ErrInvalidInput)
	}
	c := &Catalog{tags: make([]Tag, 0, len(tags)), byName: make(map[string]Tag, len(tags))}
	for _, tag := range tags {
		tag.Name = strings.TrimSpace(tag.Name)
		if tag.Name == "" {
			return nil, fmt.Errorf("%w: tag name is required", domain.ErrInvalidInput)
		}
		if strings.Contains(tag.Name, canonicalSeparator) {
			return nil, fmt.Errorf("%w: tag %q contains %q", domain.ErrInvalidInput, tag.Name, canonicalSeparator)
		}
		if _, dup := c.byName[tag.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tag %q", domain.ErrInvalidInput, tag.Name)
		}
		if strings.TrimSpace(tag.Instruction) == "" {
			tag.Instruction = strings.ReplaceAll(tag.Name, "_", " ")
		}
		c.tags = append(c.tags, tag)
		c.byName[tag.Name] = tag
	}
	return c, nil
}

// DefaultCatalog returns a catalog over DefaultTags.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultTags)
	if err != nil {
		panic(err)
	}
	return c
}

// Size returns n, the number of tags.
func (c *Catalog) Size() int { return len(c.tags) }

// Tags returns a copy of the catalog tags.
func (c *Catalog) Tags() []Tag {
	out := make([]Tag, len(c.tags))
	copy(out, c.tags)
	return out
}

// Lookup returns the tag registered under name.
func (c *Catalog) Lookup(name string) (Tag, bool) {
	tag, ok := c.byName[name]
	return tag, ok
}

// Binomial returns C(n, k), or 0 when k is out of range.
func Binomial(n, k int) int {
	if k < 0 || n < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	result := 1
	for i := 1; i <= k; i++ {
		result = result * (n - k + i) / i
	}
	return result
}
