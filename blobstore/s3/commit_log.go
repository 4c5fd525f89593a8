package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tesseradb/tessera/blobstore"
)

// ErrConcurrentCommit is returned when another writer committed the same
// version first.
var ErrConcurrentCommit = errors.New("concurrent commit detected")

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitLog records which S3 object currently backs each artifact name.
//
// S3 has no compare-and-swap, so concurrent writers cannot safely agree on a
// pointer through S3 alone. DynamoDB conditional writes supply the CAS: each
// commit appends a monotonically increasing version row, and the row with the
// highest version is the current one.
//
// Table schema:
//   - Partition key: artifact (string) - the logical blob name
//   - Sort key: version (number) - monotonically increasing version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name tessera-commits \
//	  --attribute-definitions AttributeName=artifact,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=artifact,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitLog struct {
	client    DDBClient
	tableName string
}

// NewCommitLog creates a new DynamoDB-backed commit log.
func NewCommitLog(client DDBClient, tableName string) *CommitLog {
	return &CommitLog{client: client, tableName: tableName}
}

// Latest returns the highest committed version and its S3 key for an
// artifact. A zero version means no commit exists yet.
func (l *CommitLog) Latest(ctx context.Context, artifact string) (uint64, string, error) {
	resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("artifact = :a"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":a": &types.AttributeValueMemberS{Value: artifact},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to query commit log: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in commit log")
	}
	keyAttr, ok := item["object_key"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid object_key attribute in commit log")
	}

	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, "", fmt.Errorf("failed to parse version: %w", err)
	}

	return version, keyAttr.Value, nil
}

// Commit atomically appends version for artifact pointing at objectKey.
// The conditional write fails with ErrConcurrentCommit if another writer got
// there first.
func (l *CommitLog) Commit(ctx context.Context, artifact string, version uint64, objectKey string) error {
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item: map[string]types.AttributeValue{
			"artifact":   &types.AttributeValueMemberS{Value: artifact},
			"version":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", version)},
			"object_key": &types.AttributeValueMemberS{Value: objectKey},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("failed to commit version: %w", err)
	}
	return nil
}

// VersionedStore is a BlobStore whose writes go to immutable versioned S3
// keys with the current pointer tracked in the commit log. Readers always see
// a fully written artifact; a crashed writer leaves at most an orphan object.
type VersionedStore struct {
	store *Store
	log   *CommitLog
}

// NewVersionedStore wraps an S3 store with commit-log versioning.
func NewVersionedStore(store *Store, log *CommitLog) *VersionedStore {
	return &VersionedStore{store: store, log: log}
}

func versionedKey(name string, version uint64) string {
	return fmt.Sprintf("%s.v%d", name, version)
}

// Get resolves the current version from the commit log and reads it from S3.
func (s *VersionedStore) Get(ctx context.Context, name string) ([]byte, error) {
	version, key, err := s.log.Latest(ctx, name)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return s.store.Get(ctx, key)
}

// Put writes the blob to a fresh versioned key, then commits the pointer.
func (s *VersionedStore) Put(ctx context.Context, name string, data []byte) error {
	current, _, err := s.log.Latest(ctx, name)
	if err != nil {
		return err
	}

	next := current + 1
	key := versionedKey(name, next)
	if err := s.store.Put(ctx, key, data); err != nil {
		return err
	}
	return s.log.Commit(ctx, name, next, key)
}

// Exists reports whether any version has been committed.
func (s *VersionedStore) Exists(ctx context.Context, name string) (bool, error) {
	version, _, err := s.log.Latest(ctx, name)
	if err != nil {
		return false, err
	}
	return version > 0, nil
}

// Delete removes the current version object. Commit history rows are retained.
func (s *VersionedStore) Delete(ctx context.Context, name string) error {
	version, key, err := s.log.Latest(ctx, name)
	if err != nil {
		return err
	}
	if version == 0 {
		return nil
	}
	return s.store.Delete(ctx, key)
}

// List delegates to the underlying store.
func (s *VersionedStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.store.List(ctx, prefix)
}
