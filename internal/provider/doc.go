// Package provider defines the uniform action surface over external
// mail/calendar services (Google, Microsoft) and the normalized types
// exchanged with them. Concrete adapters live in the subpackages.
package provider
