package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("aws")

// TableNames are the names of the dynamodb tables backing the upload service.
type TableNames struct {
	Content      string
	Upload       string
	Delegation   string
	Revocation   string
	Subscription string
	Consumer     string
	RateLimit    string
	AdminMetrics string
	SpaceMetrics string
}

// DefaultTableNames returns table names with the given prefix.
func DefaultTableNames(prefix string) TableNames {
	return TableNames{
		Content:      prefix + "content",
		Upload:       prefix + "upload",
		Delegation:   prefix + "delegation",
		Revocation:   prefix + "revocation",
		Subscription: prefix + "subscription",
		Consumer:     prefix + "consumer",
		RateLimit:    prefix + "rate-limit",
		AdminMetrics: prefix + "admin-metrics",
		SpaceMetrics: prefix + "space-metrics",
	}
}

// TableDefinitions returns the create table inputs for every table, with
// their key schemas and secondary indexes.
func TableDefinitions(names TableNames) []*dynamodb.CreateTableInput {
	return []*dynamodb.CreateTableInput{
		table(names.Content, keys("space", "link"), index(ContentLinkIndexName, keys("link", "space"))),
		table(names.Upload, keys("space", "sk"), index(UploadRootIndexName, keys("root", "space"))),
		table(names.Delegation, keys("link", ""), index(DelegationAudienceIndexName, keys("audience", "link"))),
		table(names.Revocation, keys("revoke", "")),
		table(names.Subscription, keys("subscription", "provider"),
			index(SubscriptionCustomerIndexName, keys("customer", "provider")),
			index(SubscriptionProviderIndexName, keys("provider", "customer")),
		),
		table(names.Consumer, keys("subscription", "provider"),
			index(ConsumerConsumerIndexName, keys("consumer", "provider")),
			index(ConsumerProviderIndexName, keys("provider", "consumer")),
		),
		table(names.RateLimit, keys("id", ""), index(RateLimitSubjectIndexName, keys("subject", "sk"))),
		table(names.AdminMetrics, keys("name", "")),
		table(names.SpaceMetrics, keys("space", "name")),
	}
}

// CreateTables creates all tables that do not already exist.
func CreateTables(ctx context.Context, cfg aws.Config, names TableNames, opts ...func(*dynamodb.Options)) error {
	client := dynamodb.NewFromConfig(cfg, opts...)
	for _, def := range TableDefinitions(names) {
		_, err := client.CreateTable(ctx, def)
		if err != nil {
			var inUse *types.ResourceInUseException
			if errors.As(err, &inUse) {
				log.Infow("table already exists", "table", *def.TableName)
				continue
			}
			return fmt.Errorf("creating table %s: %w", *def.TableName, err)
		}
		log.Infow("created table", "table", *def.TableName)
	}
	return nil
}

type keyPair struct {
	hash string
	sort string
}

func keys(hash, sort string) keyPair {
	return keyPair{hash, sort}
}

func (k keyPair) schema() []types.KeySchemaElement {
	schema := []types.KeySchemaElement{
		{AttributeName: aws.String(k.hash), KeyType: types.KeyTypeHash},
	}
	if k.sort != "" {
		schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(k.sort), KeyType: types.KeyTypeRange})
	}
	return schema
}

func index(name string, k keyPair) types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(name),
		KeySchema:  k.schema(),
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func table(name string, k keyPair, indexes ...types.GlobalSecondaryIndex) *dynamodb.CreateTableInput {
	seen := map[string]struct{}{}
	var attrs []types.AttributeDefinition
	addAttrs := func(k keyPair) {
		for _, a := range []string{k.hash, k.sort} {
			if _, ok := seen[a]; a == "" || ok {
				continue
			}
			seen[a] = struct{}{}
			attrs = append(attrs, types.AttributeDefinition{
				AttributeName: aws.String(a),
				AttributeType: types.ScalarAttributeTypeS,
			})
		}
	}
	addAttrs(k)
	for _, idx := range indexes {
		var ik keyPair
		for _, e := range idx.KeySchema {
			if e.KeyType == types.KeyTypeHash {
				ik.hash = *e.AttributeName
			} else {
				ik.sort = *e.AttributeName
			}
		}
		addAttrs(ik)
	}
	input := &dynamodb.CreateTableInput{
		TableName:            aws.String(name),
		KeySchema:            k.schema(),
		AttributeDefinitions: attrs,
		BillingMode:          types.BillingModePayPerRequest,
	}
	if len(indexes) > 0 {
		input.GlobalSecondaryIndexes = indexes
	}
	return input
}
