package testutil

import (
	crand "crypto/rand"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/storacha/go-ucanto/ucan"
)

func RandomBytes(size int) []byte {
	bytes := make([]byte, size)
	_, _ = crand.Read(bytes)
	return bytes
}

func RandomCID() datamodel.Link {
	bytes := RandomBytes(10)
	c, _ := cid.Prefix{
		Version:  1,
		Codec:    cid.Raw,
		MhType:   mh.SHA2_256,
		MhLength: -1,
	}.Sum(bytes)
	return cidlink.Link{Cid: c}
}

// RandomCIDs returns n distinct random links.
func RandomCIDs(n int) []ucan.Link {
	links := make([]ucan.Link, 0, n)
	for range n {
		links = append(links, RandomCID())
	}
	return links
}

func RandomMultihash() mh.Multihash {
	return RandomCID().(cidlink.Link).Hash()
}

func RandomSigner() principal.Signer {
	s, _ := signer.Generate()
	return s
}

func RandomDID() did.DID {
	return RandomSigner().DID()
}

// LinkStrings maps links to their string form, handy for order independent
// comparisons.
func LinkStrings(links []ucan.Link) []string {
	strs := make([]string, 0, len(links))
	for _, l := range links {
		strs = append(strs, l.String())
	}
	return strs
}
