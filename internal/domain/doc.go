// Package domain contains the business records that event handlers and work
// functions act on: applications and their underwriting decisions, claims and
// their decisions, actuarial analyses, and generated reports. The types are
// independent of any specific storage or delivery mechanism.
package domain
