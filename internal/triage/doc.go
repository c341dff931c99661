// Package triage is the business boundary for the medical consultation
// orchestrator. It defines the Service (session lifecycle, rooms, tokens),
// Engine (per-turn classify/confirm/alert pipeline), the escalation decider,
// and the interfaces its adapters implement.
package triage
