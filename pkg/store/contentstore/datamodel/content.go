package datamodel

import (
	_ "embed"
	"fmt"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/schema"
)

//go:embed content.ipldsch
var contentSchema []byte

var contentTS *schema.TypeSystem

func init() {
	ts, err := ipld.LoadSchemaBytes(contentSchema)
	if err != nil {
		panic(fmt.Errorf("loading content schema: %w", err))
	}
	contentTS = ts
}

func StoredObjectType() schema.Type {
	return contentTS.TypeByName("StoredObject")
}

type StoredObjectModel struct {
	Space      []byte
	Link       ipld.Link
	Size       int64
	Origin     *ipld.Link
	Issuer     []byte
	Invocation ipld.Link
	InsertedAt string
}
