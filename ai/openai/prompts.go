package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/folio/ai"
)

const extractionPromptTemplate = `You are extracting concepts from text about data management and leadership.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must follow this schema:

%s

Concept categories (use only these):
- methodology: frameworks, approaches (e.g., "data mesh", "agile", "scrum")
- principle: core beliefs, guiding rules (e.g., "domain ownership", "single responsibility")
- pattern: recurring solutions (e.g., "event sourcing", "cqrs", "data product")
- role: people, teams, responsibilities (e.g., "data product owner", "platform team")
- tool: technologies, products (e.g., "dbt", "kafka", "snowflake")
- metric: measurements, KPIs (e.g., "data quality score", "lead time")

Relationship types (use only these): %s
- enables: A makes B possible
- requires: A depends on B
- part_of: A is a component of B
- similar_to: A is conceptually like B
- contrasts: A is the opposite of B

Rules:
- Only extract specific concepts that are reusable across documents.
- Do not extract generic terms such as "data", "team", "process", "system", "organization".
- Concept names are lowercase and singular ("data product", not "Data Products").
- Only create relationships explicitly stated or strongly implied in the text, between concepts you extracted.
- Include a one sentence description for each concept.
- If nothing qualifies, return {"concepts": [], "relationships": []}.

Example:
Input: "Data mesh shifts ownership of analytical data to domain teams, who publish data products."
Output:
{
  "concepts": [
    {"name":"data mesh","category":"methodology","description":"Decentralized approach to analytical data management."},
    {"name":"domain ownership","category":"principle","description":"Domain teams own the data they produce."},
    {"name":"data product","category":"pattern","description":"Data published by a domain for consumption by others."}
  ],
  "relationships": [
    {"from":"domain ownership","to":"data product","type":"enables"},
    {"from":"domain ownership","to":"data mesh","type":"part_of"}
  ]
}`

const sourceRelationshipPromptTemplate = `These concepts all appear in the same book or document about data management.
Identify meaningful relationships between them.

Relationship types (use only these): %s

Concepts from this source:
%s

Rules:
- Only identify relationships that are meaningful and likely true.
- Do not force relationships; it is fine to return few or none.
- Focus on the most important and obvious relationships.

Return ONLY valid JSON complying with this schema:

%s

If there are no clear relationships, return {"relationships": []}.`

const crossSourceRelationshipPromptTemplate = `These concepts appear across multiple books or sources about data management.
The sources each concept appears in are listed. Identify relationships between concepts from DIFFERENT sources.

Relationship types (use only these): %s

Concepts and their sources:
%s

Rules:
- Focus on relationships between concepts from different sources.
- These relationships show how ideas from different authors connect.
- Be conservative; only identify clear relationships.
- Give a brief reason for each relationship.

Return ONLY valid JSON complying with this schema:

%s

If there are no clear relationships, return {"relationships": []}.`

// relationshipList is the response envelope for relationship prompts.
type relationshipList struct {
	Relationships []ai.ExtractedRelationship `json:"relationships" jsonschema_description:"Relationships between the listed concepts"`
}

var (
	extractionSchema   = ai.GenerateSchema(&ai.Extraction{})
	relationshipSchema = ai.GenerateSchema(&relationshipList{})
)

// buildExtractionPrompt creates the system prompt for chunk extraction.
func buildExtractionPrompt() string {
	return fmt.Sprintf(extractionPromptTemplate,
		extractionSchema,
		strings.Join(ai.RelationshipTypes, ", "))
}

func formatConcepts(concepts []ai.ConceptSummary, withSources bool) string {
	var b strings.Builder
	for _, c := range concepts {
		description := c.Description
		if description == "" {
			description = "No description"
		}
		fmt.Fprintf(&b, "- %s (%s): %s", c.Name, c.Category, description)
		if withSources && len(c.Sources) > 0 {
			fmt.Fprintf(&b, " [sources: %s]", strings.Join(c.Sources, " | "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func buildSourceRelationshipPrompt(concepts []ai.ConceptSummary) string {
	return fmt.Sprintf(sourceRelationshipPromptTemplate,
		strings.Join(ai.RelationshipTypes, ", "),
		formatConcepts(concepts, false),
		relationshipSchema)
}

func buildCrossSourceRelationshipPrompt(concepts []ai.ConceptSummary) string {
	return fmt.Sprintf(crossSourceRelationshipPromptTemplate,
		strings.Join(ai.RelationshipTypes, ", "),
		formatConcepts(concepts, true),
		relationshipSchema)
}
