// Package llm defines the text generation interface shared by the agent,
// planner and reflection layers, together with a disabled placeholder
// backend. Provider adapters live in sub-packages.
package llm
