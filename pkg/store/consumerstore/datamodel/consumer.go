package datamodel

import (
	_ "embed"
	"fmt"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/schema"
)

//go:embed consumer.ipldsch
var consumerSchema []byte

var consumerTS *schema.TypeSystem

func init() {
	ts, err := ipld.LoadSchemaBytes(consumerSchema)
	if err != nil {
		panic(fmt.Errorf("loading consumer schema: %w", err))
	}
	consumerTS = ts
}

func ConsumerType() schema.Type {
	return consumerTS.TypeByName("Consumer")
}

type ConsumerModel struct {
	Subscription string
	Provider     []byte
	Consumer     []byte
	Customer     *[]byte
	Cause        ipld.Link
	InsertedAt   string
	UpdatedAt    string
}
