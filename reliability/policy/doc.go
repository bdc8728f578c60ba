// Package policy evaluates ODRL-style usage policies attached to contract
// negotiations.
//
// A policy is the decoded JSON document itself. Evaluate grants access when
// at least one permission holds together with its duties and no
// prohibition holds.
package policy
