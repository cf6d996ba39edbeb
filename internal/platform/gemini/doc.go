// Package gemini implements service.Analyzer on Google's Gemini API.
//
// Each analysis kind has its own prompt template. The model is asked for a
// single JSON object, which is checked for the keys the event mappers read
// before it is returned as the task result. Rate limits and server errors
// are retried with exponential backoff; safety blocks and malformed
// responses fail the task at once.
package gemini
