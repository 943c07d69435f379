// Package dskey builds datastore keys out of arbitrary strings. Every segment
// is multibase (base32) encoded so DIDs, CIDs and opaque identifiers can never
// introduce path separators or collide with each other.
package dskey

import (
	"fmt"

	"github.com/ipfs/go-datastore"
	"github.com/multiformats/go-multibase"
)

// Segment encodes s as a single key path segment.
func Segment(s string) string {
	enc, err := multibase.Encode(multibase.Base32, []byte(s))
	if err != nil {
		// only fails for unknown encodings
		panic(err)
	}
	return enc
}

// Decode is the inverse of [Segment].
func Decode(segment string) (string, error) {
	_, b, err := multibase.Decode(segment)
	if err != nil {
		return "", fmt.Errorf("decoding key segment %q: %w", segment, err)
	}
	return string(b), nil
}

// New creates a key in namespace ns made of the encoded parts.
func New(ns string, parts ...string) datastore.Key {
	segments := make([]string, 0, len(parts)+1)
	segments = append(segments, ns)
	for _, p := range parts {
		segments = append(segments, Segment(p))
	}
	return datastore.KeyWithNamespaces(segments)
}

// Prefix returns a query prefix matching every key below New(ns, parts...).
func Prefix(ns string, parts ...string) string {
	return New(ns, parts...).String() + "/"
}
