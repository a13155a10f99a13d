package kvs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfrontkeyvaluestore"
	cfkvstypes "github.com/aws/aws-sdk-go-v2/service/cloudfrontkeyvaluestore/types"
)

// KVSARNResolver abstracts CloudFront KVS ARN resolution.
type KVSARNResolver interface {
	ListKeyValueStores(ctx context.Context, params *cloudfront.ListKeyValueStoresInput, optFns ...func(*cloudfront.Options)) (*cloudfront.ListKeyValueStoresOutput, error)
}

// ResolveKVSARN resolves a KVS name to its ARN by listing all KVS and matching by name.
func ResolveKVSARN(ctx context.Context, client KVSARNResolver, kvsName string) (string, error) {
	var marker *string
	for {
		resp, err := client.ListKeyValueStores(ctx, &cloudfront.ListKeyValueStoresInput{
			Marker: marker,
		})
		if err != nil {
			return "", fmt.Errorf("listing key value stores: %w", err)
		}
		marker = nil
		if resp.KeyValueStoreList != nil {
			for _, item := range resp.KeyValueStoreList.Items {
				if aws.ToString(item.Name) == kvsName && item.ARN != nil {
					return *item.ARN, nil
				}
			}
			marker = resp.KeyValueStoreList.NextMarker
		}
		if marker == nil {
			break
		}
	}
	return "", fmt.Errorf("key value store not found: %s", kvsName)
}

// CloudFront is a Store backed by a CloudFront KeyValueStore. Keys are
// flattened with JoinKey.
type CloudFront struct {
	client KVSClient
	arn    string
}

// NewCloudFront returns a store writing to the KVS identified by arn.
func NewCloudFront(client KVSClient, arn string) *CloudFront {
	return &CloudFront{client: client, arn: arn}
}

func (c *CloudFront) Get(ctx context.Context, key, scopeKey string) (string, bool, error) {
	flat, err := JoinKey(key, scopeKey)
	if err != nil {
		return "", false, err
	}
	resp, err := c.client.GetKey(ctx, &cloudfrontkeyvaluestore.GetKeyInput{
		KvsARN: aws.String(c.arn),
		Key:    aws.String(flat),
	})
	var notFound *cfkvstypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting KVS key %s: %w", flat, err)
	}
	return aws.ToString(resp.Value), true, nil
}

func (c *CloudFront) Set(ctx context.Context, key, scopeKey, value string) error {
	flat, err := JoinKey(key, scopeKey)
	if err != nil {
		return err
	}
	entry := Entry{Key: flat, Value: value}
	if errs := entry.Validate(); len(errs) > 0 {
		return errs
	}
	return c.apply(ctx, &SyncPlan{Puts: []Entry{entry}})
}

func (c *CloudFront) Delete(ctx context.Context, key, scopeKey string) error {
	flat, err := JoinKey(key, scopeKey)
	if err != nil {
		return err
	}
	if _, ok, err := c.Get(ctx, key, scopeKey); err != nil || !ok {
		return err
	}
	return c.apply(ctx, &SyncPlan{Deletes: []string{flat}})
}

func (c *CloudFront) List(ctx context.Context, key string) (map[string]string, error) {
	existing, err := FetchExistingKeys(ctx, c.client, c.arn)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for flat, value := range existing {
		if k, scope, ok := SplitKey(flat); ok && k == key {
			out[scope] = value
		}
	}
	return out, nil
}

func (c *CloudFront) apply(ctx context.Context, plan *SyncPlan) error {
	etag, err := FetchETag(ctx, c.client, c.arn)
	if err != nil {
		return err
	}
	return Sync(ctx, c.client, c.arn, etag, plan)
}
