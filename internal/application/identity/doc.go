// Package identity assigns stable global identifiers to the entities described by source
// records. MappingService keeps feed-local key associations, Authority mints and looks up
// identifiers, and CrossSystemResolver aligns local keys with an external authority.
package identity
