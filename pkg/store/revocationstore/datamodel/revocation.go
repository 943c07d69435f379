package datamodel

import (
	_ "embed"
	"fmt"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/schema"
)

//go:embed revocation.ipldsch
var revocationSchema []byte

var revocationTS *schema.TypeSystem

func init() {
	ts, err := ipld.LoadSchemaBytes(revocationSchema)
	if err != nil {
		panic(fmt.Errorf("loading revocation schema: %w", err))
	}
	revocationTS = ts
}

func RevocationsType() schema.Type {
	return revocationTS.TypeByName("Revocations")
}

type RevocationModel struct {
	Scope ipld.Link
	Cause ipld.Link
}

type RevocationsModel struct {
	Revocations []RevocationModel
}
