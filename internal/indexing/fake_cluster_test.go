package indexing

import (
	"context"
	"sync"

	"github.com/arkilian/bulkindex/internal/bulk"
	bulkerr "github.com/arkilian/bulkindex/internal/errors"
)

// fakeCluster is an in-memory shard node. Hooks override the default
// behavior of storing every item.
type fakeCluster struct {
	mu         sync.Mutex
	partitions map[string]bool
	docs       map[string]map[string][]byte
	attempts   map[string]int
	requests   int
	creates    int
	failCreate map[string]error

	// itemHook decides the result of one item. attempt counts from 1.
	itemHook func(item bulk.Item, attempt int) (bulk.ItemResult, bool)

	// requestHook may fail a whole request.
	requestHook func(ctx context.Context, req *bulk.Request) error
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		partitions: make(map[string]bool),
		docs:       make(map[string]map[string][]byte),
		attempts:   make(map[string]int),
		failCreate: make(map[string]error),
	}
}

func (c *fakeCluster) CreatePartitions(ctx context.Context, table string, names []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	for _, n := range names {
		if err := c.failCreate[n]; err != nil {
			return err
		}
	}
	for _, n := range names {
		c.partitions[n] = true
	}
	return nil
}

func (c *fakeCluster) BulkWrite(ctx context.Context, req *bulk.Request) ([]bulk.ItemResult, error) {
	if c.requestHook != nil {
		if err := c.requestHook(ctx, req); err != nil {
			c.mu.Lock()
			c.requests++
			for _, item := range req.Items {
				c.attempts[item.ID]++
			}
			c.mu.Unlock()
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++

	results := make([]bulk.ItemResult, len(req.Items))
	if !c.partitions[req.Partition] {
		for i := range results {
			results[i] = bulk.ItemResult{Status: bulk.StatusTerminal, Code: bulkerr.CodePartitionNotFound, Reason: "no such partition"}
		}
		return results, nil
	}

	docs := c.docs[req.Partition]
	if docs == nil {
		docs = make(map[string][]byte)
		c.docs[req.Partition] = docs
	}

	for i, item := range req.Items {
		c.attempts[item.ID]++
		if c.itemHook != nil {
			if res, handled := c.itemHook(item, c.attempts[item.ID]); handled {
				results[i] = res
				continue
			}
		}
		if _, exists := docs[item.ID]; exists && !req.Overwrite {
			results[i] = bulk.ItemResult{Status: bulk.StatusTerminal, Code: bulkerr.CodeVersionConflict, Reason: "document already exists"}
			continue
		}
		docs[item.ID] = item.Source
	}
	return results, nil
}

func (c *fakeCluster) attemptsFor(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[id]
}

func (c *fakeCluster) stored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, docs := range c.docs {
		n += len(docs)
	}
	return n
}

func (c *fakeCluster) createCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}
