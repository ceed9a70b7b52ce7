// Package config loads genmemo's YAML configuration.
//
// Scalar values may reference environment variables as ${VAR}. Expansion is
// strict: a referenced variable that is not set is an error, and $$ yields a
// literal dollar sign.
//
//	store:
//	  path: ./cache.jsonl
//	  mode: log
//	genai:
//	  api_key: ${GEMINI_API_KEY}
//	  requests_per_minute: 60
//	batch:
//	  concurrency: 5
package config
