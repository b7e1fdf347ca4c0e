// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config loads citesearch settings.
//
// The built-in defaults from types.DefaultConfig form the base layer. A YAML
// file (citesearch.yaml in the working directory or in ~/.config/citesearch,
// or an explicit path) is merged over them, and CITESEARCH_* environment
// variables override both. Nested maps merge key by key; lists replace.
//
// Domain rule maps are keyed by host names, so keys are split on "::"
// instead of viper's default "."; use Key to build one. The environment form
// joins the parts with underscores, so engine::budget is read from
// CITESEARCH_ENGINE_BUDGET.
//
// The merged result is validated with go-playground/validator before it is
// returned.
package config
