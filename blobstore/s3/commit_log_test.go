package s3

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

// fakeDDB is an in-memory DDBClient covering the query/conditional-put
// subset the commit log uses.
type fakeDDB struct {
	rows map[string]map[uint64]string // artifact -> version -> object_key
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{rows: make(map[string]map[uint64]string)}
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	artifact := params.Item["artifact"].(*types.AttributeValueMemberS).Value
	versionStr := params.Item["version"].(*types.AttributeValueMemberN).Value
	objectKey := params.Item["object_key"].(*types.AttributeValueMemberS).Value

	var version uint64
	if _, err := fmt.Sscanf(versionStr, "%d", &version); err != nil {
		return nil, err
	}

	if f.rows[artifact] == nil {
		f.rows[artifact] = make(map[uint64]string)
	}
	if _, exists := f.rows[artifact][version]; exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	f.rows[artifact][version] = objectKey
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	artifact := params.ExpressionAttributeValues[":a"].(*types.AttributeValueMemberS).Value

	versions := f.rows[artifact]
	if len(versions) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}

	keys := make([]uint64, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })

	latest := keys[0]
	return &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{{
			"artifact":   &types.AttributeValueMemberS{Value: artifact},
			"version":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", latest)},
			"object_key": &types.AttributeValueMemberS{Value: versions[latest]},
		}},
	}, nil
}

func TestCommitLogLatestEmpty(t *testing.T) {
	log := NewCommitLog(newFakeDDB(), "commits")

	version, key, err := log.Latest(context.Background(), "col/index.bin")
	require.NoError(t, err)
	require.Zero(t, version)
	require.Empty(t, key)
}

func TestCommitLogCommitAndLatest(t *testing.T) {
	ctx := context.Background()
	log := NewCommitLog(newFakeDDB(), "commits")

	require.NoError(t, log.Commit(ctx, "col/index.bin", 1, "col/index.bin.v1"))
	require.NoError(t, log.Commit(ctx, "col/index.bin", 2, "col/index.bin.v2"))

	version, key, err := log.Latest(ctx, "col/index.bin")
	require.NoError(t, err)
	require.Equal(t, uint64(2), version)
	require.Equal(t, "col/index.bin.v2", key)
}

func TestCommitLogConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	log := NewCommitLog(newFakeDDB(), "commits")

	require.NoError(t, log.Commit(ctx, "col/index.bin", 1, "a"))
	err := log.Commit(ctx, "col/index.bin", 1, "b")
	require.ErrorIs(t, err, ErrConcurrentCommit)
}
