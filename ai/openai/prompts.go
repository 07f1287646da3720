package openai

import "fmt"

const rewriteSchema = `{
  "type": "object",
  "properties": {
    "paraphrases": {
      "type": "array",
      "items": { "type": "string" }
    }
  },
  "required": ["paraphrases"],
  "additionalProperties": false
}`

const rewritePromptTemplate = `Rewrite the user's question so that a search over a document finds the passages that answer it.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- Produce at most %d paraphrases.
- Keep every named entity, number and date from the question.
- Prefer the vocabulary a document would use over conversational phrasing.
- Do not answer the question.
- If the question cannot be rephrased, return "paraphrases": [].`

func buildRewritePrompt(n int) string {
	return fmt.Sprintf(rewritePromptTemplate, rewriteSchema, n)
}
