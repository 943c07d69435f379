package datamodel

import (
	_ "embed"
	"fmt"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/schema"
)

//go:embed ratelimit.ipldsch
var rateLimitSchema []byte

var rateLimitTS *schema.TypeSystem

func init() {
	ts, err := ipld.LoadSchemaBytes(rateLimitSchema)
	if err != nil {
		panic(fmt.Errorf("loading rate limit schema: %w", err))
	}
	rateLimitTS = ts
}

func RateLimitType() schema.Type {
	return rateLimitTS.TypeByName("RateLimit")
}

type RateLimitModel struct {
	Id         string
	Subject    string
	Rate       float64
	Cause      ipld.Link
	InsertedAt string
}
