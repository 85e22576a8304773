package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jmaddux/frontdesk/internal/types"
	"github.com/rs/zerolog"
)

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Create tables in local mode
	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

func (s *DynamoDBStore) SaveCallSession(ctx context.Context, session types.CallSession) error {
	if session.DateKey == "" {
		session.DateKey = session.StartTime.Format("2006-01-02")
	}
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("failed to marshal call session: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.CallsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save call session: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetCallSession(ctx context.Context, callSID string) (*types.CallSession, error) {
	keyCond := expression.Key("CallID").Equal(expression.Value(callSID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.CallsTable),
		IndexName:                 aws.String("CallID-index"),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query call session: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, ErrNotFound
	}

	var session types.CallSession
	if err := attributevalue.UnmarshalMap(result.Items[0], &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call session: %w", err)
	}
	return &session, nil
}

func (s *DynamoDBStore) ListCallSessions(ctx context.Context, dateKey string) ([]types.CallSession, error) {
	keyCond := expression.Key("DateKey").Equal(expression.Value(dateKey))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.CallsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query call sessions: %w", err)
	}

	var sessions []types.CallSession
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &sessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call sessions: %w", err)
	}
	return sessions, nil
}

func (s *DynamoDBStore) SaveWorkflowResult(ctx context.Context, result types.WorkflowResult) error {
	item, err := attributevalue.MarshalMap(result)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow result: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.WorkflowTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save workflow result: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetWorkflowResult(ctx context.Context, callSID string) (*types.WorkflowResult, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"CallID": callSID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.WorkflowTable),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow result: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var result types.WorkflowResult
	if err := attributevalue.UnmarshalMap(out.Item, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow result: %w", err)
	}
	return &result, nil
}

func (s *DynamoDBStore) HasConsent(ctx context.Context, number string) (bool, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"Number": number})
	if err != nil {
		return false, fmt.Errorf("failed to marshal key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.ConsentTable),
		Key:       key,
	})
	if err != nil {
		return false, fmt.Errorf("failed to get consent record: %w", err)
	}
	if out.Item == nil {
		return false, nil
	}

	var record struct {
		Granted bool `dynamodbav:"Granted"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return false, fmt.Errorf("failed to unmarshal consent record: %w", err)
	}
	return record.Granted, nil
}

func (s *DynamoDBStore) SetConsent(ctx context.Context, number string, granted bool) error {
	item, err := attributevalue.MarshalMap(map[string]interface{}{
		"Number":    number,
		"Granted":   granted,
		"UpdatedAt": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal consent record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.ConsentTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save consent record: %w", err)
	}
	return nil
}

// ClaimAction uses a conditional put so only the first claim for a
// call/action pair succeeds, regardless of concurrent workflow runs.
func (s *DynamoDBStore) ClaimAction(ctx context.Context, callSID string, kind types.ActionKind) error {
	item, err := attributevalue.MarshalMap(map[string]interface{}{
		"CallID":    callSID,
		"Kind":      string(kind),
		"ClaimedAt": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch claim: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.config.DispatchTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(CallID) AND attribute_not_exists(Kind)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyDispatched
		}
		return fmt.Errorf("failed to claim action: %w", err)
	}
	return nil
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, logger zerolog.Logger) (Store, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoDBStore(ctx, cfg, logger)
	default:
		logger.Info().Msg("DynamoDB disabled (DYNAMO_MODE=none), using in-memory store")
		return NewMemStore(), nil
	}
}
