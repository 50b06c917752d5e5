package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"card-market-tracker/src/models"

	"github.com/antzucaro/matchr"
)

// VariantSimilarity is the Jaro-Winkler score above which a qualifier counts as a known variant.
const VariantSimilarity = 0.92

var (
	setCodePattern = regexp.MustCompile(`(?i)\b([a-z]{2,4})[-\s]?(\d{2,3})\b`)
	parenPattern   = regexp.MustCompile(`\(([^)]*)\)`)
	nonWordPattern = regexp.MustCompile(`[^a-z0-9]+`)
)

// Resolver maps marketplace labels to entity ids through set-code/variant alias keys.
// It is read-only after construction and safe for concurrent use.
type Resolver struct {
	byKey      map[string]string   // canonical alias key -> entity id
	byLabel    map[string]string   // normalized free-form alias -> entity id
	variants   map[string][]string // set code -> known variants (normalized)
	codes      map[string]bool     // set codes the catalog carries
	entityByID map[string]models.MEntity
	order      []string
}

// -----------------------------------------------------------------------------

// NewResolver indexes the catalog. Duplicate ids or alias keys are an error.
func NewResolver(entities []models.MEntity) (*Resolver, error) {
	if err := ValidateEntities(entities); err != nil {
		return nil, err
	}

	r := &Resolver{
		byKey:      make(map[string]string),
		byLabel:    make(map[string]string),
		variants:   make(map[string][]string),
		codes:      make(map[string]bool),
		entityByID: make(map[string]models.MEntity, len(entities)),
	}

	for _, e := range entities {
		r.entityByID[e.ID] = e
		r.order = append(r.order, e.ID)

		code, variant, ok := splitAlias(e.AliasKey)
		if !ok {
			r.byLabel[normalizeText(e.AliasKey)] = e.ID
			continue
		}
		r.byKey[canonicalKey(code, variant)] = e.ID
		r.codes[code] = true
		if variant != "" {
			r.variants[code] = append(r.variants[code], variant)
		}
	}
	return r, nil
}

// -----------------------------------------------------------------------------

// ValidateEntities rejects empty ids, duplicate ids and duplicate alias keys.
func ValidateEntities(entities []models.MEntity) error {
	ids := make(map[string]bool, len(entities))
	keys := make(map[string]string, len(entities))

	for i, e := range entities {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("catalog entry %d has an empty id", i)
		}
		if strings.TrimSpace(e.AliasKey) == "" {
			return fmt.Errorf("catalog entry %q has an empty alias key", e.ID)
		}
		if ids[e.ID] {
			return fmt.Errorf("duplicate entity id %q in catalog", e.ID)
		}
		ids[e.ID] = true

		key := AliasKey(e.AliasKey)
		if other, dup := keys[key]; dup {
			return fmt.Errorf("entities %q and %q share alias key %q", other, e.ID, key)
		}
		keys[key] = e.ID
	}
	return nil
}

// -----------------------------------------------------------------------------

// AliasKey returns the canonical form of an alias ("op01 (blue)" -> "OP-01 (blue)").
func AliasKey(alias string) string {
	code, variant, ok := splitAlias(alias)
	if !ok {
		return normalizeText(alias)
	}
	return canonicalKey(code, variant)
}

// -----------------------------------------------------------------------------

// Resolve returns the entity id a free-text label refers to.
// The first set code in the label that the catalog carries wins, so quantity
// phrases like "Box 24" are skipped. A variant-specific key is used only when
// the catalog has it, otherwise the bare set-code key.
func (r *Resolver) Resolve(rawLabel string) (string, bool) {
	if id, ok := r.byLabel[normalizeText(rawLabel)]; ok {
		return id, true
	}

	code := ""
	for _, c := range extractSetCodes(rawLabel) {
		if r.codes[c] {
			code = c
			break
		}
	}
	if code == "" {
		return "", false
	}

	if variant := r.matchVariant(code, rawLabel); variant != "" {
		if id, ok := r.byKey[canonicalKey(code, variant)]; ok {
			return id, true
		}
	}

	id, ok := r.byKey[canonicalKey(code, "")]
	return id, ok
}

// -----------------------------------------------------------------------------

// Entity looks up a catalog entry by id.
func (r *Resolver) Entity(id string) (models.MEntity, bool) {
	e, ok := r.entityByID[id]
	return e, ok
}

// -----------------------------------------------------------------------------

// Entities returns the catalog in load order.
func (r *Resolver) Entities() []models.MEntity {
	out := make([]models.MEntity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entityByID[id])
	}
	return out
}

// -----------------------------------------------------------------------------

// matchVariant checks parenthesized qualifiers first, then bare words,
// against the variants the catalog knows for code.
func (r *Resolver) matchVariant(code, label string) string {
	known := r.variants[code]
	if len(known) == 0 {
		return ""
	}

	var candidates []string
	for _, m := range parenPattern.FindAllStringSubmatch(label, -1) {
		candidates = append(candidates, normalizeText(m[1]))
	}
	candidates = append(candidates, strings.Fields(normalizeText(label))...)

	for _, cand := range candidates {
		if cand == "" {
			continue
		}
		if v := bestVariant(cand, known); v != "" {
			return v
		}
	}
	return ""
}

// -----------------------------------------------------------------------------

func bestVariant(candidate string, known []string) string {
	for _, v := range known {
		if candidate == v {
			return v
		}
	}
	// "blue ver" still names the blue printing
	padded := " " + candidate + " "
	for _, v := range known {
		if strings.Contains(padded, " "+v+" ") {
			return v
		}
	}

	best, bestScore := "", 0.0
	for _, v := range known {
		score := matchr.JaroWinkler(candidate, v, false)
		if score >= VariantSimilarity && score > bestScore {
			best, bestScore = v, score
		}
	}
	return best
}

// -----------------------------------------------------------------------------

func extractSetCode(label string) (string, bool) {
	m := setCodePattern.FindStringSubmatch(label)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]) + "-" + m[2], true
}

// -----------------------------------------------------------------------------

func extractSetCodes(label string) []string {
	var codes []string
	for _, m := range setCodePattern.FindAllStringSubmatch(label, -1) {
		codes = append(codes, strings.ToUpper(m[1])+"-"+m[2])
	}
	return codes
}

// -----------------------------------------------------------------------------

func splitAlias(alias string) (code, variant string, ok bool) {
	code, ok = extractSetCode(alias)
	if !ok {
		return "", "", false
	}
	if m := parenPattern.FindStringSubmatch(alias); m != nil {
		variant = normalizeText(m[1])
	}
	return code, variant, true
}

// -----------------------------------------------------------------------------

func canonicalKey(code, variant string) string {
	if variant == "" {
		return code
	}
	return code + " (" + variant + ")"
}

// -----------------------------------------------------------------------------

func normalizeText(s string) string {
	return strings.TrimSpace(nonWordPattern.ReplaceAllString(strings.ToLower(s), " "))
}
