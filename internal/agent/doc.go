// Package agent contains the research assistant core: intent classification,
// plan generation and step-by-step execution. Every run produces a complete
// TaskResult envelope regardless of model availability, falling back to rule
// based paths when no backend is configured.
package agent
