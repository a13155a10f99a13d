package kvs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfrontkeyvaluestore"
	cfkvstypes "github.com/aws/aws-sdk-go-v2/service/cloudfrontkeyvaluestore/types"
)

// KVSClient abstracts the CloudFront KeyValueStore API.
type KVSClient interface {
	DescribeKeyValueStore(ctx context.Context, params *cloudfrontkeyvaluestore.DescribeKeyValueStoreInput, optFns ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.DescribeKeyValueStoreOutput, error)
	GetKey(ctx context.Context, params *cloudfrontkeyvaluestore.GetKeyInput, optFns ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.GetKeyOutput, error)
	ListKeys(ctx context.Context, params *cloudfrontkeyvaluestore.ListKeysInput, optFns ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.ListKeysOutput, error)
	UpdateKeys(ctx context.Context, params *cloudfrontkeyvaluestore.UpdateKeysInput, optFns ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.UpdateKeysOutput, error)
}

// FetchETag returns the current ETag of a KVS, required by every write.
func FetchETag(ctx context.Context, client KVSClient, kvsARN string) (string, error) {
	desc, err := client.DescribeKeyValueStore(ctx, &cloudfrontkeyvaluestore.DescribeKeyValueStoreInput{
		KvsARN: aws.String(kvsARN),
	})
	if err != nil {
		return "", fmt.Errorf("describing KVS: %w", err)
	}
	if desc.ETag == nil {
		return "", fmt.Errorf("describing KVS: no ETag returned for %s", kvsARN)
	}
	return *desc.ETag, nil
}

// FetchExistingKeys retrieves all current keys and values from a KVS.
func FetchExistingKeys(ctx context.Context, client KVSClient, kvsARN string) (map[string]string, error) {
	existing := make(map[string]string)
	var nextToken *string
	for {
		resp, err := client.ListKeys(ctx, &cloudfrontkeyvaluestore.ListKeysInput{
			KvsARN:    aws.String(kvsARN),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing KVS keys: %w", err)
		}
		for _, item := range resp.Items {
			existing[aws.ToString(item.Key)] = aws.ToString(item.Value)
		}
		nextToken = resp.NextToken
		if nextToken == nil {
			break
		}
	}
	return existing, nil
}

// maxKeysPerBatch is the AWS CloudFront KVS limit for UpdateKeys API.
// See: https://docs.aws.amazon.com/AmazonCloudFront/latest/DeveloperGuide/cloudfront-limits.html
const maxKeysPerBatch = 50

// Sync applies a SyncPlan to a CloudFront KVS using the batch UpdateKeys API.
// Large plans are split into batches; each batch is guarded by the ETag
// returned from the previous one.
func Sync(ctx context.Context, client KVSClient, kvsARN string, etag string, plan *SyncPlan) error {
	if len(plan.Puts) == 0 && len(plan.Deletes) == 0 {
		return nil
	}

	puts := make([]cfkvstypes.PutKeyRequestListItem, 0, len(plan.Puts))
	for _, e := range plan.Puts {
		puts = append(puts, cfkvstypes.PutKeyRequestListItem{
			Key:   aws.String(e.Key),
			Value: aws.String(e.Value),
		})
	}
	deletes := make([]cfkvstypes.DeleteKeyRequestListItem, 0, len(plan.Deletes))
	for _, key := range plan.Deletes {
		deletes = append(deletes, cfkvstypes.DeleteKeyRequestListItem{
			Key: aws.String(key),
		})
	}

	currentETag := etag
	putsIdx, deletesIdx := 0, 0
	for putsIdx < len(puts) || deletesIdx < len(deletes) {
		remaining := len(puts) - putsIdx + len(deletes) - deletesIdx
		batchSize := min(maxKeysPerBatch, remaining)

		batchPuts := make([]cfkvstypes.PutKeyRequestListItem, 0, batchSize)
		batchDeletes := make([]cfkvstypes.DeleteKeyRequestListItem, 0, batchSize)

		// Puts first, then deletes.
		for len(batchPuts)+len(batchDeletes) < batchSize && putsIdx < len(puts) {
			batchPuts = append(batchPuts, puts[putsIdx])
			putsIdx++
		}
		for len(batchPuts)+len(batchDeletes) < batchSize && deletesIdx < len(deletes) {
			batchDeletes = append(batchDeletes, deletes[deletesIdx])
			deletesIdx++
		}

		resp, err := client.UpdateKeys(ctx, &cloudfrontkeyvaluestore.UpdateKeysInput{
			KvsARN:  aws.String(kvsARN),
			IfMatch: aws.String(currentETag),
			Puts:    batchPuts,
			Deletes: batchDeletes,
		})
		if err != nil {
			return fmt.Errorf("updating KVS keys (batch %d/%d puts, %d/%d deletes): %w",
				putsIdx, len(puts), deletesIdx, len(deletes), err)
		}
		if resp.ETag != nil {
			currentETag = *resp.ETag
		}
	}

	return nil
}
