package kvs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudfrontkeyvaluestore"
	cfkvstypes "github.com/aws/aws-sdk-go-v2/service/cloudfrontkeyvaluestore/types"
)

// fakeKVS is an in-memory CloudFront KeyValueStore that enforces ETags.
type fakeKVS struct {
	items    map[string]string
	version  int
	updates  int
	pageSize int
	failGet  error
}

func newFakeKVS() *fakeKVS {
	return &fakeKVS{items: make(map[string]string), pageSize: 2}
}

func (f *fakeKVS) etag() string { return fmt.Sprintf("etag-%d", f.version) }

func (f *fakeKVS) DescribeKeyValueStore(_ context.Context, _ *cloudfrontkeyvaluestore.DescribeKeyValueStoreInput, _ ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.DescribeKeyValueStoreOutput, error) {
	return &cloudfrontkeyvaluestore.DescribeKeyValueStoreOutput{ETag: aws.String(f.etag())}, nil
}

func (f *fakeKVS) GetKey(_ context.Context, in *cloudfrontkeyvaluestore.GetKeyInput, _ ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.GetKeyOutput, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	v, ok := f.items[*in.Key]
	if !ok {
		return nil, &cfkvstypes.ResourceNotFoundException{Message: aws.String("key not found")}
	}
	return &cloudfrontkeyvaluestore.GetKeyOutput{Key: in.Key, Value: aws.String(v)}, nil
}

func (f *fakeKVS) ListKeys(_ context.Context, in *cloudfrontkeyvaluestore.ListKeysInput, _ ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.ListKeysOutput, error) {
	var keys []string
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	start := 0
	if in.NextToken != nil {
		fmt.Sscanf(*in.NextToken, "%d", &start)
	}
	end := min(start+f.pageSize, len(keys))
	out := &cloudfrontkeyvaluestore.ListKeysOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, cfkvstypes.ListKeysResponseListItem{Key: aws.String(k), Value: aws.String(f.items[k])})
	}
	if end < len(keys) {
		out.NextToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

func (f *fakeKVS) UpdateKeys(_ context.Context, in *cloudfrontkeyvaluestore.UpdateKeysInput, _ ...func(*cloudfrontkeyvaluestore.Options)) (*cloudfrontkeyvaluestore.UpdateKeysOutput, error) {
	if aws.ToString(in.IfMatch) != f.etag() {
		return nil, &cfkvstypes.ConflictException{Message: aws.String("etag mismatch")}
	}
	if n := len(in.Puts) + len(in.Deletes); n > maxKeysPerBatch {
		return nil, &cfkvstypes.ValidationException{Message: aws.String("too many keys")}
	}
	for _, p := range in.Puts {
		f.items[*p.Key] = *p.Value
	}
	for _, d := range in.Deletes {
		delete(f.items, *d.Key)
	}
	f.version++
	f.updates++
	return &cloudfrontkeyvaluestore.UpdateKeysOutput{ETag: aws.String(f.etag())}, nil
}

func TestSync_Batches(t *testing.T) {
	ctx := context.Background()
	f := newFakeKVS()
	for i := 0; i < 30; i++ {
		f.items[fmt.Sprintf("old-%02d", i)] = "x"
	}

	plan := &SyncPlan{}
	for i := 0; i < 80; i++ {
		plan.Puts = append(plan.Puts, Entry{Key: fmt.Sprintf("new-%02d", i), Value: "y"})
	}
	for i := 0; i < 30; i++ {
		plan.Deletes = append(plan.Deletes, fmt.Sprintf("old-%02d", i))
	}

	if err := Sync(ctx, f, "arn", f.etag(), plan); err != nil {
		t.Fatal(err)
	}
	if f.updates != 3 {
		t.Errorf("expected 3 batches for 110 operations, got %d", f.updates)
	}
	if len(f.items) != 80 {
		t.Errorf("expected 80 keys after sync, got %d", len(f.items))
	}
}

func TestSync_EmptyPlan(t *testing.T) {
	f := newFakeKVS()
	if err := Sync(context.Background(), f, "arn", "stale", &SyncPlan{}); err != nil {
		t.Fatal(err)
	}
	if f.updates != 0 {
		t.Errorf("expected no UpdateKeys calls, got %d", f.updates)
	}
}

func TestSync_StaleETag(t *testing.T) {
	f := newFakeKVS()
	plan := &SyncPlan{Puts: []Entry{{Key: "k", Value: "v"}}}
	err := Sync(context.Background(), f, "arn", "stale", plan)
	var conflict *cfkvstypes.ConflictException
	if !errors.As(err, &conflict) {
		t.Errorf("expected ConflictException, got %v", err)
	}
}

func TestCloudFront_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	f := newFakeKVS()
	c := NewCloudFront(f, "arn")

	if _, ok, err := c.Get(ctx, "BUILD_KEY", "scope"); err != nil || ok {
		t.Fatalf("expected absent entry, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "BUILD_KEY", "scope", "one"); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "BUILD_KEY", "scope", "two"); err != nil {
		t.Fatal(err)
	}
	if f.items["BUILD_KEY:scope"] != "two" {
		t.Errorf("expected flattened key to hold 'two', got %v", f.items)
	}
	v, ok, err := c.Get(ctx, "BUILD_KEY", "scope")
	if err != nil || !ok || v != "two" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}

	if err := c.Delete(ctx, "BUILD_KEY", "scope"); err != nil {
		t.Fatal(err)
	}
	if len(f.items) != 0 {
		t.Errorf("expected empty store, got %v", f.items)
	}
	before := f.updates
	if err := c.Delete(ctx, "BUILD_KEY", "scope"); err != nil {
		t.Fatal(err)
	}
	if f.updates != before {
		t.Error("expected deleting a missing key to skip UpdateKeys")
	}
}

func TestCloudFront_SetTooLarge(t *testing.T) {
	f := newFakeKVS()
	c := NewCloudFront(f, "arn")
	err := c.Set(context.Background(), "BUILD_KEY", "scope", strings.Repeat("x", MaxEntryBytes))
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if f.updates != 0 {
		t.Error("expected no write for an oversized entry")
	}
}

func TestCloudFront_GetError(t *testing.T) {
	f := newFakeKVS()
	f.failGet = errors.New("throttled")
	c := NewCloudFront(f, "arn")
	if _, _, err := c.Get(context.Background(), "BUILD_KEY", "scope"); err == nil {
		t.Error("expected error to propagate")
	}
}

func TestCloudFront_List(t *testing.T) {
	f := newFakeKVS()
	f.items["BUILD_KEY:a"] = "A"
	f.items["BUILD_KEY:b"] = "B"
	f.items["BUILD_KEY:c:d"] = "CD"
	f.items["OTHER:a"] = "X"
	f.items["/blog"] = "/blog/"

	got, err := NewCloudFront(f, "arn").List(context.Background(), "BUILD_KEY")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got["a"] != "A" || got["b"] != "B" || got["c:d"] != "CD" {
		t.Errorf("unexpected listing %v", got)
	}
}

type fakeResolver struct {
	pages [][]cftypes.KeyValueStore
}

func (r *fakeResolver) ListKeyValueStores(_ context.Context, in *cloudfront.ListKeyValueStoresInput, _ ...func(*cloudfront.Options)) (*cloudfront.ListKeyValueStoresOutput, error) {
	idx := 0
	if in.Marker != nil {
		fmt.Sscanf(*in.Marker, "%d", &idx)
	}
	list := &cftypes.KeyValueStoreList{Items: r.pages[idx]}
	if idx+1 < len(r.pages) {
		list.NextMarker = aws.String(fmt.Sprintf("%d", idx+1))
	}
	return &cloudfront.ListKeyValueStoresOutput{KeyValueStoreList: list}, nil
}

func TestResolveKVSARN(t *testing.T) {
	r := &fakeResolver{pages: [][]cftypes.KeyValueStore{
		{{Name: aws.String("redirects"), ARN: aws.String("arn:redirects")}},
		{{Name: aws.String("build-data"), ARN: aws.String("arn:build-data")}},
	}}
	arn, err := ResolveKVSARN(context.Background(), r, "build-data")
	if err != nil {
		t.Fatal(err)
	}
	if arn != "arn:build-data" {
		t.Errorf("expected arn:build-data, got %s", arn)
	}

	if _, err := ResolveKVSARN(context.Background(), r, "missing"); err == nil {
		t.Error("expected not found error")
	}
}
