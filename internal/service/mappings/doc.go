// Package mappings implements per-carrier column mapping configuration and
// the report normalization entry points built on it.
//
// Every normalization call re-reads the carrier's configuration and resolves
// it into a complete snapshot; nothing is cached between calls. Saves replace
// a carrier's whole rule set as one unit through Repository.SaveBundle and,
// when a lock factory is configured, are serialized per carrier.
//
// The service layer depends on the Repository interface defined in
// repository.go. It never imports database/sql or the AWS SDK directly.
package mappings
