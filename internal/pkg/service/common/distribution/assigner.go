// Package distribution assigns keys to owners using the consistent hashing.
//
// The hash ring pattern is used to make the assignment, it is provided by the "consistent" package,
// see TestConsistentHashLib for more information.
// Adding or removing an owner moves only a small part of the keys.
package distribution

import (
	"sort"
	"strconv"
	"sync"

	"github.com/lafikl/consistent"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

// Assigner locally assigns the owner shard for a key, see ShardFor and Preference methods.
type Assigner struct {
	mutex  *sync.RWMutex
	ring   *consistent.Consistent
	shards map[string]int
}

func NewAssigner(shardIDs ...int) *Assigner {
	a := &Assigner{
		mutex:  &sync.RWMutex{},
		ring:   consistent.New(),
		shards: make(map[string]int),
	}
	for _, id := range shardIDs {
		a.AddShard(id)
	}
	return a
}

// Shards returns IDs of all known shards, sorted.
func (a *Assigner) Shards() []int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	out := make([]int, 0, len(a.shards))
	for _, id := range a.shards {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (a *Assigner) AddShard(id int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	host := hostName(id)
	a.shards[host] = id
	a.ring.Add(host)
}

func (a *Assigner) RemoveShard(id int) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	host := hostName(id)
	delete(a.shards, host)
	return a.ring.Remove(host)
}

// ShardFor returns ID of the key's owner shard.
// The consistent.ErrNoHosts may occur if there is no shard.
func (a *Assigner) ShardFor(key string) (int, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	host, err := a.ring.Get(key)
	if err != nil {
		return 0, errors.PrefixErrorf(err, `cannot assign key "%s"`, key)
	}
	return a.shards[host], nil
}

// Preference returns all shards, the owner of the key is first, the rest is sorted by ID.
func (a *Assigner) Preference(key string) ([]int, error) {
	owner, err := a.ShardFor(key)
	if err != nil {
		return nil, err
	}
	out := []int{owner}
	for _, id := range a.Shards() {
		if id != owner {
			out = append(out, id)
		}
	}
	return out, nil
}

func hostName(id int) string {
	return "shard-" + strconv.Itoa(id)
}
