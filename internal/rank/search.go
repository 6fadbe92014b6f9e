package rank

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/matheus3301/dmsync/internal/metrics"
	"github.com/matheus3301/dmsync/internal/msgstore"
)

// Filters narrow a local search. Zero values do not filter.
type Filters struct {
	SenderID string
	Type     msgstore.MessageType
	Start    time.Time
	End      time.Time
	Status   msgstore.Status
	IsRead   *bool
}

// SearchLocal returns the messages whose content or sender name contains
// keyword, case-insensitively, and that pass every filter. An empty keyword
// matches every message. When a date bound is set, End defaults to now and
// messages without a timestamp are excluded.
func SearchLocal(msgs []msgstore.Message, keyword string, f Filters, now time.Time) []msgstore.Message {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	out := make([]msgstore.Message, 0, len(msgs))
	for _, m := range msgs {
		if kw != "" && len(MatchedFields(m, kw)) == 0 {
			continue
		}
		if f.SenderID != "" && m.SenderID != f.SenderID {
			continue
		}
		if f.Type != "" && m.Type != f.Type {
			continue
		}
		if !f.Start.IsZero() || !f.End.IsZero() {
			if m.CreatedAt.IsZero() {
				continue
			}
			end := f.End
			if end.IsZero() {
				end = now
			}
			if m.CreatedAt.Before(f.Start) || m.CreatedAt.After(end) {
				continue
			}
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.IsRead != nil && m.IsRead != *f.IsRead {
			continue
		}
		out = append(out, m)
	}
	return out
}

// MatchedFields lists which of content and senderName contain keyword.
func MatchedFields(m msgstore.Message, keyword string) []string {
	kw := strings.ToLower(keyword)
	if kw == "" {
		return nil
	}
	var fields []string
	if strings.Contains(strings.ToLower(m.Content), kw) {
		fields = append(fields, "content")
	}
	if strings.Contains(strings.ToLower(m.SenderName), kw) {
		fields = append(fields, "senderName")
	}
	return fields
}

var nonWord = regexp.MustCompile(`[\s\W]+`)

// NormalizeKeyword lowercases keyword and collapses runs of spaces and
// punctuation into single spaces.
func NormalizeKeyword(keyword string) string {
	k := strings.ToLower(strings.TrimSpace(keyword))
	return strings.TrimSpace(nonWord.ReplaceAllString(k, " "))
}

// Highlight wraps every case-insensitive occurrence of keyword in text
// with openTag and closeTag.
func Highlight(text, keyword, openTag, closeTag string) string {
	if text == "" || keyword == "" {
		return text
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(keyword))
	return re.ReplaceAllStringFunc(text, func(s string) string { return openTag + s + closeTag })
}

// Suggestions proposes at most five earlier searches for a partial keyword.
// Case, punctuation and spacing are ignored when matching. Below two
// characters the most recent searches are returned.
func Suggestions(partial string, recent []string) []string {
	const limit = 5
	p := NormalizeKeyword(partial)
	if len([]rune(p)) < 2 {
		if len(recent) > limit {
			return recent[:limit]
		}
		return recent
	}
	var out []string
	for _, s := range recent {
		if strings.Contains(NormalizeKeyword(s), p) {
			out = append(out, s)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// SearchOptions are forwarded to the remote search and are part of the
// cache key.
type SearchOptions struct {
	SenderID string `json:"senderId,omitempty"`
	Type     string `json:"type,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// RemoteSearcher queries the server-side message search.
type RemoteSearcher interface {
	SearchMessages(ctx context.Context, conversationID, keyword string, opts SearchOptions) ([]msgstore.Message, error)
}

// DefaultSearchTTL is how long a remote result stays cached.
const DefaultSearchTTL = 5 * time.Minute

type cacheEntry struct {
	results  []msgstore.Message
	storedAt time.Time
}

// SearchCache caches remote search results per conversation, keyword and
// options. Entries expire whole.
type SearchCache struct {
	remote RemoteSearcher
	lru    *expirable.LRU[string, cacheEntry]
}

// NewSearchCache creates a cache holding at most size entries for ttl.
func NewSearchCache(remote RemoteSearcher, size int, ttl time.Duration) *SearchCache {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = DefaultSearchTTL
	}
	return &SearchCache{
		remote: remote,
		lru:    expirable.NewLRU[string, cacheEntry](size, nil, ttl),
	}
}

// CacheKey builds the cache key of a remote search.
func CacheKey(conversationID, keyword string, opts SearchOptions) string {
	b, _ := json.Marshal(opts)
	return conversationID + ":" + keyword + ":" + string(b)
}

// Search returns cached results when fresh, otherwise asks the remote and
// caches its answer. Failed remote calls are not cached.
func (c *SearchCache) Search(ctx context.Context, conversationID, keyword string, opts SearchOptions) ([]msgstore.Message, bool, error) {
	key := CacheKey(conversationID, keyword, opts)
	if e, ok := c.lru.Get(key); ok {
		metrics.SearchCache.WithLabelValues("hit").Inc()
		return e.results, true, nil
	}
	metrics.SearchCache.WithLabelValues("miss").Inc()

	results, err := c.remote.SearchMessages(ctx, conversationID, keyword, opts)
	if err != nil {
		return nil, false, err
	}
	c.lru.Add(key, cacheEntry{results: results, storedAt: time.Now()})
	return results, false, nil
}

// Clear drops every cached entry.
func (c *SearchCache) Clear() { c.lru.Purge() }

// CacheItem describes one cached search.
type CacheItem struct {
	Key     string
	Age     time.Duration
	Results int
}

// CacheStats reports the cache content.
type CacheStats struct {
	Size  int
	Items []CacheItem
}

// Stats returns the live entries of the cache.
func (c *SearchCache) Stats() CacheStats {
	keys := c.lru.Keys()
	st := CacheStats{Items: make([]CacheItem, 0, len(keys))}
	for _, k := range keys {
		e, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		st.Items = append(st.Items, CacheItem{Key: k, Age: time.Since(e.storedAt), Results: len(e.results)})
	}
	st.Size = len(st.Items)
	return st
}
