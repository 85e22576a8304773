package storage

import "os"

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
	DynamoModeNone  DynamoMode = "none"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode          DynamoMode
	Endpoint      string // for local mode
	Region        string
	CallsTable    string
	WorkflowTable string
	ConsentTable  string
	DispatchTable string
}

// LoadDynamoConfig loads DynamoDB config from environment
func LoadDynamoConfig() DynamoConfig {
	mode := DynamoMode(getEnv("DYNAMO_MODE", "none"))
	if mode != DynamoModeLocal && mode != DynamoModeAWS {
		mode = DynamoModeNone
	}

	return DynamoConfig{
		Mode:          mode,
		Endpoint:      getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
		Region:        getEnv("DYNAMO_REGION", "eu-central-1"),
		CallsTable:    getEnv("DYNAMO_CALLS_TABLE", "frontdesk-call-sessions"),
		WorkflowTable: getEnv("DYNAMO_WORKFLOW_TABLE", "frontdesk-workflow-results"),
		ConsentTable:  getEnv("DYNAMO_CONSENT_TABLE", "frontdesk-consent"),
		DispatchTable: getEnv("DYNAMO_DISPATCH_TABLE", "frontdesk-dispatch"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
