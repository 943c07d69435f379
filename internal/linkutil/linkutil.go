package linkutil

import (
	"fmt"

	"github.com/ipfs/go-cid"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/storacha/go-ucanto/ucan"
)

// Parse decodes the string form of a CID into a link.
func Parse(s string) (ucan.Link, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decoding link %q: %w", s, err)
	}
	return cidlink.Link{Cid: c}, nil
}

// ParseOptional is like [Parse] but maps the empty string to a nil link.
func ParseOptional(s string) (ucan.Link, error) {
	if s == "" {
		return nil, nil
	}
	return Parse(s)
}

// Format is the inverse of [ParseOptional].
func Format(l ucan.Link) string {
	if l == nil {
		return ""
	}
	return l.String()
}
