package datamodel

import (
	_ "embed"
	"fmt"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/schema"
)

//go:embed delegation.ipldsch
var delegationSchema []byte

var delegationTS *schema.TypeSystem

func init() {
	ts, err := ipld.LoadSchemaBytes(delegationSchema)
	if err != nil {
		panic(fmt.Errorf("loading delegation schema: %w", err))
	}
	delegationTS = ts
}

func DelegationType() schema.Type {
	return delegationTS.TypeByName("Delegation")
}

type DelegationModel struct {
	Cause      ipld.Link
	Link       ipld.Link
	Audience   []byte
	Issuer     []byte
	Expiration int64
	InsertedAt string
	UpdatedAt  string
}
