package brief

import (
	"github.com/kaptinlin/jsonschema"

	"brief-engine/internal/llmservice"
	"brief-engine/internal/models"
)

// SectionSpec describes how one section is generated.
type SectionSpec struct {
	Name models.SectionName
	// Query drives retrieval from the knowledge sources.
	Query        string
	Instructions string
	Schema       *jsonschema.Schema
	MaxTokens    int
}

const briefSystemPrompt = `You prepare a bid/no-bid brief for a government solicitation.
Use only the context provided; the solicitation documents are authoritative.
Respond with a single JSON object and nothing else. Use empty arrays when the context has nothing relevant.`

var sectionSpecs = map[models.SectionName]SectionSpec{
	models.SectionSummary: {
		Name:  models.SectionSummary,
		Query: "scope of work, purpose, issuing agency, contract type, estimated value, period of performance",
		Instructions: `Summarize the opportunity.
JSON: {"title": string, "agency": string, "solicitationNumber": string, "contractType": string,
"estimatedValue": string, "periodOfPerformance": string, "overview": string}`,
		Schema: llmservice.MustCompileSchema(`{
  "type": "object",
  "required": ["overview"],
  "properties": {
    "title": {"type": "string"},
    "agency": {"type": "string"},
    "solicitationNumber": {"type": "string"},
    "contractType": {"type": "string"},
    "estimatedValue": {"type": "string"},
    "periodOfPerformance": {"type": "string"},
    "overview": {"type": "string", "minLength": 1}
  }
}`),
		MaxTokens: 1200,
	},
	models.SectionDeadlines: {
		Name:  models.SectionDeadlines,
		Query: "proposal due date, questions deadline, submission time and time zone, site visit, award date",
		Instructions: `List every dated milestone.
JSON: {"deadlines": [{"name": string, "date": string (ISO 8601 when possible), "time": string, "timezone": string, "notes": string}]}`,
		Schema: llmservice.MustCompileSchema(`{
  "type": "object",
  "required": ["deadlines"],
  "properties": {
    "deadlines": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "date"],
        "properties": {
          "name": {"type": "string"},
          "date": {"type": "string"},
          "time": {"type": "string"},
          "timezone": {"type": "string"},
          "notes": {"type": "string"}
        }
      }
    }
  }
}`),
		MaxTokens: 1000,
	},
	models.SectionRequirements: {
		Name:  models.SectionRequirements,
		Query: "shall, must, mandatory requirements, submission instructions, evaluation criteria, certifications",
		Instructions: `Extract the requirements an offeror must meet.
JSON: {"requirements": [{"text": string, "category": string, "mandatory": boolean, "reference": string}]}`,
		Schema: llmservice.MustCompileSchema(`{
  "type": "object",
  "required": ["requirements"],
  "properties": {
    "requirements": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["text", "mandatory"],
        "properties": {
          "text": {"type": "string"},
          "category": {"type": "string"},
          "mandatory": {"type": "boolean"},
          "reference": {"type": "string"}
        }
      }
    }
  }
}`),
		MaxTokens: 2500,
	},
	models.SectionContacts: {
		Name:  models.SectionContacts,
		Query: "contracting officer, point of contact, email, phone, contract specialist",
		Instructions: `List the named government contacts.
JSON: {"contacts": [{"name": string, "role": string, "email": string, "phone": string}]}`,
		Schema: llmservice.MustCompileSchema(`{
  "type": "object",
  "required": ["contacts"],
  "properties": {
    "contacts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "role": {"type": "string"},
          "email": {"type": "string"},
          "phone": {"type": "string"}
        }
      }
    }
  }
}`),
		MaxTokens: 800,
	},
	models.SectionRisks: {
		Name:  models.SectionRisks,
		Query: "risks, penalties, liquidated damages, security clearance, staffing, unusual terms, incumbent",
		Instructions: `Identify bid risks for our company given its capabilities.
JSON: {"risks": [{"title": string, "description": string, "severity": "low"|"medium"|"high", "mitigation": string}]}`,
		Schema: llmservice.MustCompileSchema(`{
  "type": "object",
  "required": ["risks"],
  "properties": {
    "risks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "severity"],
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"},
          "severity": {"enum": ["low", "medium", "high"]},
          "mitigation": {"type": "string"}
        }
      }
    }
  }
}`),
		MaxTokens: 1500,
	},
	models.SectionPastPerformance: {
		Name:  models.SectionPastPerformance,
		Query: "similar prior contracts, relevant experience, customer references, contract value and scope",
		Instructions: `Match our past performance to this opportunity.
JSON: {"matches": [{"contract": string, "customer": string, "relevance": string, "relevanceScore": number 0-1}], "gaps": [string]}`,
		Schema: llmservice.MustCompileSchema(`{
  "type": "object",
  "required": ["matches"],
  "properties": {
    "matches": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["contract", "relevance"],
        "properties": {
          "contract": {"type": "string"},
          "customer": {"type": "string"},
          "relevance": {"type": "string"},
          "relevanceScore": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "gaps": {"type": "array", "items": {"type": "string"}}
  }
}`),
		MaxTokens: 1500,
	},
	models.SectionScoring: {
		Name:  models.SectionScoring,
		Query: "evaluation factors, technical capability, past performance fit, price competitiveness, strategic fit",
		Instructions: `Score the opportunity against weighted bid criteria and recommend a decision.
Scores are 0-100 and weights are positive numbers.
JSON: {"criteria": [{"name": string, "weight": number, "score": number, "rationale": string}],
"decision": "GO"|"CONDITIONAL_GO"|"NO_GO", "confidence": number 0-1, "rationale": string}`,
		Schema: llmservice.MustCompileSchema(`{
  "type": "object",
  "required": ["criteria", "decision"],
  "properties": {
    "criteria": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "weight", "score"],
        "properties": {
          "name": {"type": "string"},
          "weight": {"type": "number", "exclusiveMinimum": 0},
          "score": {"type": "number", "minimum": 0, "maximum": 100},
          "rationale": {"type": "string"}
        }
      }
    },
    "decision": {"enum": ["GO", "CONDITIONAL_GO", "NO_GO"]},
    "confidence": {"type": "number"},
    "rationale": {"type": "string"}
  }
}`),
		MaxTokens: 1500,
	},
}

// Spec returns the generation settings for a section.
func Spec(name models.SectionName) (SectionSpec, bool) {
	s, ok := sectionSpecs[name]
	return s, ok
}
