// Package genai calls Gemini generateContent through the official Go SDK
// and returns structured JSON results.
//
// A Client asks the model for application/json output, optionally constrained
// by a response schema, and reports the outcome as either a Response holding
// valid JSON or a typed error. Rate-limit and server errors are retried with
// exponential backoff and requests are paced to a per-minute quota.
package genai
