package datamodel

import (
	_ "embed"
	"fmt"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/schema"
)

//go:embed subscription.ipldsch
var subscriptionSchema []byte

var subscriptionTS *schema.TypeSystem

func init() {
	ts, err := ipld.LoadSchemaBytes(subscriptionSchema)
	if err != nil {
		panic(fmt.Errorf("loading subscription schema: %w", err))
	}
	subscriptionTS = ts
}

func SubscriptionType() schema.Type {
	return subscriptionTS.TypeByName("Subscription")
}

type SubscriptionModel struct {
	Subscription string
	Provider     []byte
	Customer     []byte
	Cause        ipld.Link
	InsertedAt   string
	UpdatedAt    string
}
