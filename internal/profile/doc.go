// Package profile exports the tag collections and extension states as one
// pretty-printed JSON document and imports such a document back.
//
// Import validates the whole document before touching any store: the JSON
// schema checks shape, struct rules check id uniqueness, and the optional
// version field must fall within the supported major version. A document
// that fails any check is rejected with ErrInvalidDocument and nothing is
// changed.
package profile
