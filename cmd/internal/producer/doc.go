// Package producer turns prompts into content: it keeps a bounded per-conversation memory,
// streams tokens from a model (echo, OpenAI or Gemini) and runs multi-step chains.
//
// The socket gateway and the /send endpoint are its only callers; neither touches the broker
// store directly from here.
package producer
