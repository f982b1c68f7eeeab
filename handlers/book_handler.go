package handlers

import (
	"bookmart/apperr"
	"bookmart/cache"
	"bookmart/logger"
	"bookmart/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"net/http"
	"strconv"
	"strings"
)

const recentReviewCount = 5

var bookSorts = map[string]string{
	"newest":     "books.id DESC",
	"price_asc":  "books.price ASC, books.id DESC",
	"price_desc": "books.price DESC, books.id DESC",
	"rating":     "books.average_rating DESC, books.num_reviews DESC, books.id DESC",
	"title":      "books.title ASC, books.id ASC",
}

type bookFilter struct {
	Search     string
	CategoryID uint
	MinPrice   *int64
	MaxPrice   *int64
	Sort       string
	Featured   bool
}

// cacheable reports whether the listing is the plain newest-first catalog
// that the Redis sorted set holds.
func (f bookFilter) cacheable() bool {
	return f.Search == "" && f.CategoryID == 0 && f.MinPrice == nil && f.MaxPrice == nil &&
		!f.Featured && (f.Sort == "" || f.Sort == "newest")
}

func parseBookFilter(c *gin.Context) (bookFilter, error) {
	f := bookFilter{
		Search: strings.TrimSpace(c.Query("search")),
		Sort:   c.Query("sort"),
	}

	if f.Sort != "" {
		if _, ok := bookSorts[f.Sort]; !ok {
			return f, apperr.BadRequest("invalid sort")
		}
	}

	if raw := c.Query("category"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return f, apperr.BadRequest("invalid category")
		}
		f.CategoryID = uint(id)
	}

	for name, target := range map[string]**int64{"minPrice": &f.MinPrice, "maxPrice": &f.MaxPrice} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return f, apperr.BadRequest("invalid " + name)
		}
		*target = &v
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return f, apperr.BadRequest("minPrice is greater than maxPrice")
	}

	if raw := c.Query("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			return f, apperr.BadRequest("invalid featured")
		}
		f.Featured = featured
	}
	return f, nil
}

func (f bookFilter) apply(query *gorm.DB) *gorm.DB {
	if f.Search != "" {
		like := containsPattern(f.Search)
		query = query.Where(
			"LOWER(books.title) LIKE ? ESCAPE '!' OR LOWER(books.author) LIKE ? ESCAPE '!' OR LOWER(books.isbn) LIKE ? ESCAPE '!'",
			like, like, like,
		)
	}
	if f.CategoryID != 0 {
		query = query.
			Joins("JOIN book_categories ON book_categories.book_id = books.id").
			Where("book_categories.category_id = ?", f.CategoryID)
	}
	if f.MinPrice != nil {
		query = query.Where("books.price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		query = query.Where("books.price <= ?", *f.MaxPrice)
	}
	if f.Featured {
		query = query.Where("books.featured = ?", true)
	}
	return query
}

func (h *Handler) GetBooksHandler(c *gin.Context) {
	page, err := parsePagination(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	filter, err := parseBookFilter(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if filter.cacheable() {
		books, total, ok := h.cachedBooks(c, page)
		if ok {
			c.JSON(http.StatusOK, gin.H{
				"message":    "books",
				"books":      books,
				"pagination": page.meta(total),
			})
			return
		}
	}

	books, total, err := h.queryBooks(filter, page)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "books",
		"books":      books,
		"pagination": page.meta(total),
	})
}

// cachedBooks serves a page from the catalog cache, rebuilding it from the
// database when empty. ok is false when Redis is unusable and the caller
// should query the database directly.
func (h *Handler) cachedBooks(c *gin.Context, page pagination) ([]cache.BookSummary, int64, bool) {
	ctx := c.Request.Context()
	log := logger.Ctx(ctx)

	books, total, ok, err := h.Books.Page(ctx, page.Offset(), page.Limit)
	if err != nil {
		log.Warn().Err(err).Msg("catalog cache read failed")
		h.Metrics.CatalogCache.WithLabelValues("error").Inc()
		return nil, 0, false
	}
	if ok {
		h.Metrics.CatalogCache.WithLabelValues("hit").Inc()
		return books, total, true
	}
	h.Metrics.CatalogCache.WithLabelValues("miss").Inc()

	gen, err := h.Books.Generation(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("catalog cache read failed")
		return nil, 0, false
	}

	var all []models.Book
	if err := h.DB.Order("id DESC").Find(&all).Error; err != nil {
		log.Error().Err(err).Msg("could not load catalog")
		return nil, 0, false
	}
	if len(all) == 0 {
		return []cache.BookSummary{}, 0, true
	}
	written, err := h.Books.Rebuild(ctx, gen, all)
	if err != nil {
		log.Warn().Err(err).Msg("catalog cache rebuild failed")
	} else if !written {
		log.Debug().Msg("catalog changed during rebuild, cache left empty")
	}

	books = []cache.BookSummary{}
	for i := page.Offset(); i < len(all) && i < page.Offset()+page.Limit; i++ {
		books = append(books, cache.Summarize(&all[i]))
	}
	return books, int64(len(all)), true
}

func (h *Handler) queryBooks(filter bookFilter, page pagination) ([]cache.BookSummary, int64, error) {
	var total int64
	if err := filter.apply(h.DB.Model(&models.Book{})).Count(&total).Error; err != nil {
		return nil, 0, apperr.Internal("could not count books", err)
	}

	order := bookSorts["newest"]
	if filter.Sort != "" {
		order = bookSorts[filter.Sort]
	}

	var books []models.Book
	err := filter.apply(h.DB.Model(&models.Book{})).
		Order(order).
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&books).
		Error
	if err != nil {
		return nil, 0, apperr.Internal("could not load books", err)
	}

	summaries := make([]cache.BookSummary, 0, len(books))
	for i := range books {
		summaries = append(summaries, cache.Summarize(&books[i]))
	}
	return summaries, total, nil
}

// syncBookCache mirrors a book change into the catalog cache. A failed write
// drops the whole set so the next listing rebuilds it.
func (h *Handler) syncBookCache(c *gin.Context, book *models.Book, deleted bool) {
	ctx := c.Request.Context()
	var err error
	if deleted {
		err = h.Books.Remove(ctx, book.ID)
	} else {
		err = h.Books.Put(ctx, book)
	}
	if err == nil {
		return
	}
	logger.Ctx(ctx).Warn().Err(err).Uint("bookId", book.ID).Msg("catalog cache update failed")
	if err := h.Books.Invalidate(ctx); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("catalog cache invalidate failed")
	}
}

// refreshBooks reloads the given books and writes them to the catalog cache.
func (h *Handler) refreshBooks(c *gin.Context, bookIDs []uint) {
	if len(bookIDs) == 0 {
		return
	}
	var books []models.Book
	if err := h.DB.Where("id IN ?", bookIDs).Find(&books).Error; err != nil {
		logger.Ctx(c.Request.Context()).Warn().Err(err).Msg("could not reload books for cache")
		return
	}
	for i := range books {
		h.syncBookCache(c, &books[i], false)
	}
}

type reviewView struct {
	models.Review
	UserName string `json:"userName"`
}

func (h *Handler) loadReviews(bookID uint, limit int) ([]reviewView, error) {
	var reviews []models.Review
	query := h.DB.Preload("User").Where("book_id = ?", bookID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&reviews).Error; err != nil {
		return nil, err
	}

	views := make([]reviewView, 0, len(reviews))
	for _, review := range reviews {
		views = append(views, reviewView{Review: review, UserName: review.User.Name})
	}
	return views, nil
}

func (h *Handler) GetBookHandler(c *gin.Context) {
	bookID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var book models.Book
	if err := h.DB.Preload("Categories").First(&book, bookID).Error; err != nil {
		_ = c.Error(err)
		return
	}

	reviews, err := h.loadReviews(book.ID, recentReviewCount)
	if err != nil {
		_ = c.Error(apperr.Internal("could not load reviews", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "book",
		"book":    book,
		"reviews": reviews,
	})
}

func (h *Handler) GetCategoriesHandler(c *gin.Context) {
	var categories []models.Category
	if err := h.DB.Order("name ASC").Find(&categories).Error; err != nil {
		_ = c.Error(apperr.Internal("could not load categories", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "categories",
		"categories": categories,
	})
}

func (h *Handler) GetCategoryBooksHandler(c *gin.Context) {
	categoryID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	page, err := parsePagination(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var category models.Category
	if err := h.DB.First(&category, categoryID).Error; err != nil {
		_ = c.Error(err)
		return
	}

	books, total, err := h.queryBooks(bookFilter{CategoryID: category.ID}, page)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "category books",
		"category":   category,
		"books":      books,
		"pagination": page.meta(total),
	})
}
