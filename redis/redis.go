// Package redis implements the instance index on top of Redis so that
// several bridge processes can share one store.
package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	dicomweb "gitlab.com/medical-research/dicomweb"
	"gitlab.com/medical-research/dicomweb/dicom"
	"gitlab.com/medical-research/dicomweb/store"
)

// Ensure service implements interface.
var _ store.Index = (*Index)(nil)

// DefaultPrefix is prepended to every key written by the index. The hash
// tag keeps every key in one cluster slot so that addInstanceScript can
// touch them all.
const DefaultPrefix = "{dicomweb}:"

// addInstanceScript marks KEYS[1] and appends ARGV[1] to the lists
// KEYS[2..n]. Key types are checked before anything is written, so a
// failed call leaves no marker behind and can be retried.
var addInstanceScript = goredis.NewScript(`
for i = 2, #KEYS do
	local t = redis.call('TYPE', KEYS[i])
	if type(t) == 'table' then t = t.ok end
	if t ~= 'none' and t ~= 'list' then
		return redis.error_reply('WRONGTYPE ' .. KEYS[i] .. ' is not a list')
	end
end
if redis.call('SETNX', KEYS[1], 1) == 0 then
	return 0
end
for i = 2, #KEYS do
	redis.call('RPUSH', KEYS[i], ARGV[1])
end
return 1
`)

// Index stores the instance records of every resource as a Redis list of
// JSON documents keyed by level and resource id.
type Index struct {
	client goredis.UniversalClient
	Prefix string
}

// NewIndex returns an Index using client.
func NewIndex(client goredis.UniversalClient) *Index {
	return &Index{client: client, Prefix: DefaultPrefix}
}

// Open connects to the Redis server at url and returns an Index on it.
func Open(ctx context.Context, url string) (*Index, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.EINVALID, "parse redis url: %v", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, dicomweb.Errorf(dicomweb.ESTORE, "connect redis: %v", err)
	}
	return NewIndex(client), nil
}

// Close closes the underlying client.
func (idx *Index) Close() error {
	return idx.client.Close()
}

func (idx *Index) listKey(level dicomweb.ResourceLevel, id string) string {
	return idx.Prefix + level.String() + ":" + id
}

func (idx *Index) seenKey(id string) string {
	return idx.Prefix + "seen:" + id
}

func (idx *Index) AddInstance(ctx context.Context, rec *dicomweb.InstanceRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return dicomweb.Errorf(dicomweb.EINVALID, "marshal instance record: %v", err)
	}

	ids := dicom.IDs(rec)
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, idx.seenKey(rec.ID))
	for level, id := range ids {
		keys = append(keys, idx.listKey(level, id))
	}

	if err := addInstanceScript.Run(ctx, idx.client, keys, payload).Err(); err != nil {
		return dicomweb.Errorf(dicomweb.ESTORE, "index instance %s: %v", rec.ID, err)
	}
	return nil
}

func (idx *Index) Exists(ctx context.Context, level dicomweb.ResourceLevel, id string) (bool, error) {
	n, err := idx.client.Exists(ctx, idx.listKey(level, id)).Result()
	if err != nil {
		return false, dicomweb.Errorf(dicomweb.ESTORE, "lookup %s %s: %v", level, id, err)
	}
	return n > 0, nil
}

func (idx *Index) Instances(ctx context.Context, level dicomweb.ResourceLevel, id string) ([]*dicomweb.InstanceRecord, error) {
	items, err := idx.client.LRange(ctx, idx.listKey(level, id), 0, -1).Result()
	if err != nil {
		return nil, dicomweb.Errorf(dicomweb.ESTORE, "list %s %s: %v", level, id, err)
	}

	records := make([]*dicomweb.InstanceRecord, 0, len(items))
	for _, item := range items {
		var rec dicomweb.InstanceRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, dicomweb.Errorf(dicomweb.EINVALID, "decode instance record under %s %s: %v", level, id, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}
