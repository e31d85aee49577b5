package ai

import (
	"slices"

	"github.com/poiesic/folio/core"
)

// Categories is the closed vocabulary of concept categories.
var Categories = []string{
	"methodology",
	"principle",
	"pattern",
	"role",
	"tool",
	"metric",
}

// RelationshipTypes is the closed vocabulary of concept relationship types.
var RelationshipTypes = []string{
	"enables",
	"requires",
	"part_of",
	"similar_to",
	"contrasts",
}

// ValidCategory reports whether category is in Categories.
func ValidCategory(category string) bool {
	return slices.Contains(Categories, category)
}

// ValidRelationshipType reports whether typ is in RelationshipTypes.
func ValidRelationshipType(typ string) bool {
	return slices.Contains(RelationshipTypes, typ)
}

// ExtractedConcept is a concept named by the model in a chunk.
type ExtractedConcept struct {
	Name        string `json:"name" jsonschema_description:"Concept name, lowercase and singular"`
	Category    string `json:"category" jsonschema_description:"One of the listed categories"`
	Description string `json:"description" jsonschema_description:"One sentence describing the concept"`
}

// ExtractedRelationship is a directed relationship between two concepts,
// referenced by name.
type ExtractedRelationship struct {
	From   string `json:"from" jsonschema_description:"Name of the source concept"`
	To     string `json:"to" jsonschema_description:"Name of the target concept"`
	Type   string `json:"type" jsonschema_description:"One of the listed relationship types"`
	Reason string `json:"reason,omitempty" jsonschema_description:"Brief explanation of the relationship"`
}

// Extraction is the result of analyzing one chunk.
type Extraction struct {
	Concepts      []ExtractedConcept      `json:"concepts" jsonschema_description:"Concepts discussed in the text"`
	Relationships []ExtractedRelationship `json:"relationships" jsonschema_description:"Relationships stated or strongly implied in the text"`
}

// ConceptSummary describes a stored concept to the relationship finder.
// Sources lists the titles of the sources covering it, when known.
type ConceptSummary struct {
	Name        string
	Category    string
	Description string
	Sources     []string
}

// Sanitize normalizes concept names and drops anything outside the
// vocabularies: concepts with an unknown category or empty name, duplicate
// concepts, and relationships with an unknown type or a self-loop.
// The first occurrence of a duplicate concept wins.
func (e *Extraction) Sanitize() {
	seen := make(map[string]bool, len(e.Concepts))
	concepts := e.Concepts[:0]
	for _, c := range e.Concepts {
		c.Name = core.NormalizeConceptName(c.Name)
		if c.Name == "" || seen[c.Name] || !ValidCategory(c.Category) {
			continue
		}
		seen[c.Name] = true
		concepts = append(concepts, c)
	}
	e.Concepts = concepts
	e.Relationships = SanitizeRelationships(e.Relationships)
}

// SanitizeRelationships normalizes endpoint names and drops relationships
// with an unknown type, an empty endpoint, or identical endpoints.
func SanitizeRelationships(rels []ExtractedRelationship) []ExtractedRelationship {
	out := rels[:0]
	for _, r := range rels {
		r.From = core.NormalizeConceptName(r.From)
		r.To = core.NormalizeConceptName(r.To)
		if r.From == "" || r.To == "" || r.From == r.To || !ValidRelationshipType(r.Type) {
			continue
		}
		out = append(out, r)
	}
	return out
}
