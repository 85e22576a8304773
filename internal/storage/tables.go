package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// CreateTablesIfNotExist creates DynamoDB tables for local development
func CreateTablesIfNotExist(ctx context.Context, client *dynamodb.Client, config DynamoConfig, logger zerolog.Logger) error {
	tables := []struct {
		name string
		pk   string
		sk   string // empty for simple primary key
	}{
		{config.CallsTable, "DateKey", "CallID"},
		{config.WorkflowTable, "CallID", ""},
		{config.ConsentTable, "Number", ""},
		{config.DispatchTable, "CallID", "Kind"},
	}

	for _, table := range tables {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table.name),
		})
		if err == nil {
			logger.Info().Str("table", table.name).Msg("table already exists")
			continue
		}

		keySchema := []dbtypes.KeySchemaElement{
			{AttributeName: aws.String(table.pk), KeyType: dbtypes.KeyTypeHash},
		}
		attrDefs := []dbtypes.AttributeDefinition{
			{AttributeName: aws.String(table.pk), AttributeType: dbtypes.ScalarAttributeTypeS},
		}
		if table.sk != "" {
			keySchema = append(keySchema, dbtypes.KeySchemaElement{
				AttributeName: aws.String(table.sk), KeyType: dbtypes.KeyTypeRange,
			})
			attrDefs = append(attrDefs, dbtypes.AttributeDefinition{
				AttributeName: aws.String(table.sk), AttributeType: dbtypes.ScalarAttributeTypeS,
			})
		}

		input := &dynamodb.CreateTableInput{
			TableName:            aws.String(table.name),
			KeySchema:            keySchema,
			AttributeDefinitions: attrDefs,
			BillingMode:          dbtypes.BillingModePayPerRequest,
		}

		// The calls table is keyed by date for listing; lookups by call SID
		// go through a GSI.
		if table.name == config.CallsTable {
			input.AttributeDefinitions = append(input.AttributeDefinitions, dbtypes.AttributeDefinition{
				AttributeName: aws.String("CallID"), AttributeType: dbtypes.ScalarAttributeTypeS,
			})
			input.GlobalSecondaryIndexes = []dbtypes.GlobalSecondaryIndex{
				{
					IndexName: aws.String("CallID-index"),
					KeySchema: []dbtypes.KeySchemaElement{
						{AttributeName: aws.String("CallID"), KeyType: dbtypes.KeyTypeHash},
					},
					Projection: &dbtypes.Projection{ProjectionType: dbtypes.ProjectionTypeAll},
				},
			}
			// DateKey+CallID already defines both attributes; drop the duplicate
			input.AttributeDefinitions = dedupeAttrs(input.AttributeDefinitions)
		}

		_, err = client.CreateTable(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.name, err)
		}
		logger.Info().Str("table", table.name).Msg("table created")
	}

	return nil
}

func dedupeAttrs(attrs []dbtypes.AttributeDefinition) []dbtypes.AttributeDefinition {
	seen := make(map[string]bool, len(attrs))
	out := attrs[:0]
	for _, a := range attrs {
		if a.AttributeName == nil || seen[*a.AttributeName] {
			continue
		}
		seen[*a.AttributeName] = true
		out = append(out, a)
	}
	return out
}
