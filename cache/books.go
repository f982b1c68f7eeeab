// Package cache keeps Redis-backed copies of the catalog and short-lived
// tokens.
package cache

import (
	"bookmart/models"
	"context"
	"encoding/json"
	"errors"
	"github.com/redis/go-redis/v9"
	"strconv"
)

const (
	booksKey = "books"
	booksGen = "books:gen"
)

// Every write bumps the generation so a rebuild started from an older
// database read can tell it was overtaken.
var (
	rebuildScript = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
for i = 2, #ARGV, 2 do
	redis.call('ZADD', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

	putScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

	removeScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
return redis.call('ZREMRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1])
`)

	invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
return redis.call('DEL', KEYS[1])
`)
)

// BookSummary is the listing view of a book stored in the catalog cache.
type BookSummary struct {
	ID            uint    `json:"id"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Price         int64   `json:"price"`
	Stock         int     `json:"stock"`
	ImageURL      string  `json:"imageURL"`
	AverageRating float64 `json:"averageRating"`
	NumReviews    int     `json:"numReviews"`
	Featured      bool    `json:"featured"`
}

func Summarize(book *models.Book) BookSummary {
	return BookSummary{
		ID:            book.ID,
		Title:         book.Title,
		Author:        book.Author,
		Price:         book.Price,
		Stock:         book.Stock,
		ImageURL:      book.ImageURL,
		AverageRating: book.AverageRating,
		NumReviews:    book.NumReviews,
		Featured:      book.Featured,
	}
}

// BookCache is a sorted set of book summaries scored by book ID, so the
// newest books have the highest scores.
type BookCache struct {
	rdb *redis.Client
}

func NewBookCache(rdb *redis.Client) *BookCache {
	return &BookCache{rdb: rdb}
}

// Page returns summaries newest first. ok is false when the cache is empty
// and must be rebuilt.
func (c *BookCache) Page(ctx context.Context, offset, limit int) (books []BookSummary, total int64, ok bool, err error) {
	total, err = c.rdb.ZCard(ctx, booksKey).Result()
	if err != nil {
		return nil, 0, false, err
	}
	if total == 0 {
		return nil, 0, false, nil
	}

	members, err := c.rdb.ZRevRange(ctx, booksKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, false, err
	}

	books = make([]BookSummary, 0, len(members))
	for _, member := range members {
		var summary BookSummary
		if err := json.Unmarshal([]byte(member), &summary); err != nil {
			// a corrupt entry invalidates the whole set
			return nil, 0, false, nil
		}
		books = append(books, summary)
	}
	return books, total, true, nil
}

// Generation returns the current write generation. Read it before loading
// the books passed to Rebuild.
func (c *BookCache) Generation(ctx context.Context) (string, error) {
	gen, err := c.rdb.Get(ctx, booksGen).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

// Rebuild replaces the cached set with books unless a write happened after
// gen was read. It reports whether the set was written.
func (c *BookCache) Rebuild(ctx context.Context, gen string, books []models.Book) (bool, error) {
	args := make([]interface{}, 0, 1+2*len(books))
	args = append(args, gen)
	for i := range books {
		member, err := json.Marshal(Summarize(&books[i]))
		if err != nil {
			return false, err
		}
		args = append(args, strconv.FormatUint(uint64(books[i].ID), 10), string(member))
	}
	written, err := rebuildScript.Run(ctx, c.rdb, []string{booksKey, booksGen}, args...).Int()
	return written == 1, err
}

// Put inserts or replaces the summary of book. An unbuilt cache is left
// alone; a partial set would read as the whole catalog.
func (c *BookCache) Put(ctx context.Context, book *models.Book) error {
	member, err := json.Marshal(Summarize(book))
	if err != nil {
		return err
	}
	score := strconv.FormatUint(uint64(book.ID), 10)
	return putScript.Run(ctx, c.rdb, []string{booksKey, booksGen}, score, string(member)).Err()
}

func (c *BookCache) Remove(ctx context.Context, bookID uint) error {
	score := strconv.FormatUint(uint64(bookID), 10)
	return removeScript.Run(ctx, c.rdb, []string{booksKey, booksGen}, score).Err()
}

// Invalidate drops the whole set; the next listing rebuilds it.
func (c *BookCache) Invalidate(ctx context.Context) error {
	return invalidateScript.Run(ctx, c.rdb, []string{booksKey, booksGen}).Err()
}
