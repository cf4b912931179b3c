// Package model defines the shared domain types of tiermem: retention tiers,
// stored records, and promotion events.
package model
