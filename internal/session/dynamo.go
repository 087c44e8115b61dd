package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key layout: one item per named session.
const (
	pkPrefix     = "SESSION#"
	skCredential = "CREDENTIAL"

	// CredentialTTL matches the lifetime of an Instagram long-lived token.
	CredentialTTL = 60 * 24 * time.Hour
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// credentialRecord is the DynamoDB item body. PK, SK, and expiresAt are
// added by Set.
type credentialRecord struct {
	Token     string `dynamodbav:"ig_access_token"`
	UpdatedAt int64  `dynamodbav:"updatedAt"`
}

// DynamoStore keeps the credential in a DynamoDB table with a TTL attribute
// (expiresAt) so abandoned sessions age out on their own.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	name      string
	now       func() time.Time
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore returns a DynamoStore for the session called name
// (typically the local user or profile name).
func NewDynamoStore(client DynamoAPI, tableName, name string) *DynamoStore {
	if name == "" {
		name = "default"
	}
	return &DynamoStore{client: client, tableName: tableName, name: name, now: time.Now}
}

func (s *DynamoStore) key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + s.name},
		"SK": &types.AttributeValueMemberS{Value: skCredential},
	}
}

// Get reads the credential item. Missing items, expired items, and DynamoDB
// errors are all reported as absent.
func (s *DynamoStore) Get(ctx context.Context) (string, bool) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		log.Warn().Err(err).Str("table", s.tableName).Msg("DynamoDB unavailable, treating session as absent")
		return "", false
	}
	if result.Item == nil {
		return "", false
	}

	// TTL deletion is lazy; honour expiresAt ourselves.
	if av, ok := result.Item["expiresAt"].(*types.AttributeValueMemberN); ok {
		if exp, err := strconv.ParseInt(av.Value, 10, 64); err == nil && s.now().Unix() >= exp {
			log.Debug().Str("table", s.tableName).Msg("Stored session expired")
			return "", false
		}
	}

	var rec credentialRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		log.Warn().Err(err).Str("table", s.tableName).Msg("Session item unreadable, treating as absent")
		return "", false
	}
	return rec.Token, rec.Token != ""
}

// Set writes the credential item with a fresh TTL.
func (s *DynamoStore) Set(ctx context.Context, credential string) error {
	now := s.now()
	item, err := attributevalue.MarshalMap(credentialRecord{Token: credential, UpdatedAt: now.Unix()})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	for k, v := range s.key() {
		item[k] = v
	}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(CredentialTTL).Unix(), 10)}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("PutItem PK=%s%s SK=%s: %w", pkPrefix, s.name, skCredential, err)
	}
	log.Info().Str("table", s.tableName).Str("session", s.name).Msg("Session stored in DynamoDB")
	return nil
}

// Clear deletes the credential item.
func (s *DynamoStore) Clear(ctx context.Context) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: &s.tableName, Key: s.key()}); err != nil {
		return fmt.Errorf("DeleteItem PK=%s%s SK=%s: %w", pkPrefix, s.name, skCredential, err)
	}
	log.Info().Str("table", s.tableName).Str("session", s.name).Msg("Session removed from DynamoDB")
	return nil
}
