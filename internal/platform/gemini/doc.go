// Package gemini provides a field extractor backed by Google's Gemini API.
//
// The Extractor renders a tenant extraction template with the converted
// document, asks the model for a JSON answer and maps it into a
// domain.ExtractionResult.
//
// Key components:
//
// 1. Prompt rendering:
//   - Templates are read from the template filesystem by path
//   - The converted document and routing source are substituted in
//
// 2. Response processing:
//   - Responses must be a JSON object with "data" and optional "validations"
//   - Safety blocks, empty answers and malformed JSON are extraction errors
//
// Retries are not attempted here. A failed call fails the task attempt and
// the task retry ladder decides when to try again.
package gemini
