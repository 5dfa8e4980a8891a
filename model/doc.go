// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with language models that act as proposers.
//
// Core goals:
//   - Unify completion calls behind a single synchronous interface
//   - Report token usage so a step's cost ledger can be accumulated
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so the proposer adapter remains decoupled from vendor SDKs.
package model
