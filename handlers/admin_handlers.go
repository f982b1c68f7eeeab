package handlers

import (
	"bookmart/apperr"
	"bookmart/models"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var imageContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// isValidImage checks the extension and that the first bytes of the file
// match it.
func isValidImage(file *multipart.FileHeader) (bool, error) {
	fileExt := strings.ToLower(filepath.Ext(file.Filename))
	want, ok := imageContentTypes[fileExt]
	if !ok {
		return false, nil
	}

	f, err := file.Open()
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && n == 0 {
		return false, err
	}
	return http.DetectContentType(head[:n]) == want, nil
}

func makeUniqueFileName(file *multipart.FileHeader) string {
	fileExt := strings.ToLower(filepath.Ext(file.Filename))
	return time.Now().Format("20060102") + "_" + uuid.NewString() + fileExt
}

func (h *Handler) UploadImageHandler(c *gin.Context) {
	maxBytes := h.Config.Server.MaxUploadMB << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+1<<20)

	file, err := c.FormFile("image")
	if err != nil {
		_ = c.Error(apperr.Wrap(http.StatusBadRequest, "image file is required", err))
		return
	}
	if file.Size > maxBytes {
		_ = c.Error(apperr.BadRequest("image is too large"))
		return
	}

	valid, err := isValidImage(file)
	if err != nil {
		_ = c.Error(apperr.Wrap(http.StatusBadRequest, "could not read image", err))
		return
	}
	if !valid {
		_ = c.Error(apperr.BadRequest("only jpg, jpeg, png and webp images are allowed"))
		return
	}

	uploadsDir := h.Config.Server.UploadDir
	if err := os.MkdirAll(uploadsDir, 0755); err != nil {
		_ = c.Error(apperr.Internal("could not create upload directory", err))
		return
	}

	imageName := makeUniqueFileName(file)
	if err := c.SaveUploadedFile(file, filepath.Join(uploadsDir, imageName)); err != nil {
		_ = c.Error(apperr.Internal("could not save image", err))
		return
	}

	imagePath := path.Join("/uploads", imageName)
	h.recordAudit(c, "upload", 0, "create", gin.H{"path": imagePath})
	c.JSON(http.StatusCreated, gin.H{
		"message":   "image uploaded",
		"imagePath": imagePath,
	})
}

type bookRequest struct {
	Title         *string `json:"title" binding:"omitempty,min=1,max=255"`
	Author        *string `json:"author" binding:"omitempty,min=1,max=255"`
	ISBN          *string `json:"isbn" binding:"omitempty,min=10,max=32"`
	Description   *string `json:"description"`
	Price         *int64  `json:"price" binding:"omitempty,min=0"`
	Stock         *int    `json:"stock" binding:"omitempty,min=0"`
	ImageURL      *string `json:"imageURL" binding:"omitempty,max=512"`
	Publisher     *string `json:"publisher" binding:"omitempty,max=255"`
	PublishedYear *int    `json:"publishedYear" binding:"omitempty,min=0,max=9999"`
	Language      *string `json:"language" binding:"omitempty,max=64"`
	Pages         *int    `json:"pages" binding:"omitempty,min=0"`
	Featured      *bool   `json:"featured"`
	CategoryIDs   []uint  `json:"categoryIds"`
}

func (r bookRequest) apply(book *models.Book) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&book.Title, r.Title)
	setString(&book.Author, r.Author)
	setString(&book.ISBN, r.ISBN)
	setString(&book.Description, r.Description)
	setString(&book.ImageURL, r.ImageURL)
	setString(&book.Publisher, r.Publisher)
	setString(&book.Language, r.Language)
	if r.Price != nil {
		book.Price = *r.Price
	}
	if r.Stock != nil {
		book.Stock = *r.Stock
	}
	if r.PublishedYear != nil {
		book.PublishedYear = *r.PublishedYear
	}
	if r.Pages != nil {
		book.Pages = *r.Pages
	}
	if r.Featured != nil {
		book.Featured = *r.Featured
	}
}

func loadCategories(db *gorm.DB, ids []uint) ([]models.Category, error) {
	if len(ids) == 0 {
		return []models.Category{}, nil
	}
	var categories []models.Category
	if err := db.Where("id IN ?", ids).Find(&categories).Error; err != nil {
		return nil, err
	}
	if len(categories) != len(uniqueIDs(ids)) {
		return nil, apperr.BadRequest("unknown category")
	}
	return categories, nil
}

func uniqueIDs(ids []uint) map[uint]struct{} {
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (h *Handler) CreateBookHandler(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	if req.Title == nil || req.Author == nil || req.ISBN == nil || req.Price == nil {
		_ = c.Error(apperr.BadRequest("title, author, isbn and price are required"))
		return
	}

	var book models.Book
	req.apply(&book)

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		categories, err := loadCategories(tx, req.CategoryIDs)
		if err != nil {
			return err
		}
		book.Categories = categories
		return tx.Create(&book).Error
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.syncBookCache(c, &book, false)
	h.recordAudit(c, "book", book.ID, "create", book)
	c.JSON(http.StatusCreated, gin.H{
		"message": "book created",
		"book":    book,
	})
}

func (h *Handler) UpdateBookHandler(c *gin.Context) {
	bookID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	var book models.Book
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&book, bookID).Error; err != nil {
			return err
		}
		req.apply(&book)
		if err := tx.Omit("Categories").Save(&book).Error; err != nil {
			return err
		}

		if req.CategoryIDs != nil {
			categories, err := loadCategories(tx, req.CategoryIDs)
			if err != nil {
				return err
			}
			if err := tx.Model(&book).Association("Categories").Replace(categories); err != nil {
				return err
			}
		}
		return tx.Preload("Categories").First(&book, book.ID).Error
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.syncBookCache(c, &book, false)
	h.recordAudit(c, "book", book.ID, "update", req)
	c.JSON(http.StatusOK, gin.H{
		"message": "book updated",
		"book":    book,
	})
}

func (h *Handler) DeleteBookHandler(c *gin.Context) {
	bookID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var book models.Book
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&book, bookID).Error; err != nil {
			return err
		}
		if err := tx.Model(&book).Association("Categories").Clear(); err != nil {
			return err
		}
		if err := tx.Unscoped().Where("book_id = ?", book.ID).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM wishlist_books WHERE book_id = ?", book.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&book).Error
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.syncBookCache(c, &book, true)
	h.recordAudit(c, "book", book.ID, "delete", gin.H{"title": book.Title, "isbn": book.ISBN})
	c.JSON(http.StatusOK, gin.H{
		"message": "book deleted",
	})
}

type categoryRequest struct {
	Name        string `json:"name" binding:"required,max=191"`
	Description string `json:"description" binding:"max=1000"`
}

func (h *Handler) CreateCategoryHandler(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	category := models.Category{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
	}
	if err := h.DB.Create(&category).Error; err != nil {
		_ = c.Error(err)
		return
	}

	h.recordAudit(c, "category", category.ID, "create", category)
	c.JSON(http.StatusCreated, gin.H{
		"message":  "category created",
		"category": category,
	})
}

func (h *Handler) UpdateCategoryHandler(c *gin.Context) {
	categoryID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	var category models.Category
	if err := h.DB.First(&category, categoryID).Error; err != nil {
		_ = c.Error(err)
		return
	}

	category.Name = strings.TrimSpace(req.Name)
	category.Description = strings.TrimSpace(req.Description)
	if err := h.DB.Save(&category).Error; err != nil {
		_ = c.Error(err)
		return
	}

	h.recordAudit(c, "category", category.ID, "update", category)
	c.JSON(http.StatusOK, gin.H{
		"message":  "category updated",
		"category": category,
	})
}

// DeleteCategoryHandler detaches the category from its books and removes the
// row so the name can be reused.
func (h *Handler) DeleteCategoryHandler(c *gin.Context) {
	categoryID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var category models.Category
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&category, categoryID).Error; err != nil {
			return err
		}
		if err := tx.Model(&category).Association("Books").Clear(); err != nil {
			return err
		}
		return tx.Unscoped().Delete(&category).Error
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.recordAudit(c, "category", category.ID, "delete", gin.H{"name": category.Name})
	c.JSON(http.StatusOK, gin.H{
		"message": "category deleted",
	})
}

func (h *Handler) GetUserListHandler(c *gin.Context) {
	page, err := parsePagination(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	query := h.DB.Model(&models.User{})
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := containsPattern(search)
		query = query.Where("LOWER(name) LIKE ? ESCAPE '!' OR LOWER(email) LIKE ? ESCAPE '!'", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		_ = c.Error(apperr.Internal("could not count users", err))
		return
	}

	var users []models.User
	err = query.
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&users).
		Error
	if err != nil {
		_ = c.Error(apperr.Internal("could not load users", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "users",
		"users":      users,
		"pagination": page.meta(total),
	})
}

func (h *Handler) UpdateUserRoleHandler(c *gin.Context) {
	adminID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	userID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req struct {
		Role string `json:"role" binding:"required,oneof=user admin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	if userID == adminID && req.Role != models.RoleAdmin {
		_ = c.Error(apperr.BadRequest("you cannot demote yourself"))
		return
	}

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.DB.Model(&user).Update("role", req.Role).Error; err != nil {
		_ = c.Error(apperr.Internal("could not update role", err))
		return
	}
	// live sessions pick up the new role on their next request
	if err := h.Tokens.UpdateUserRole(user.ID, req.Role); err != nil {
		_ = c.Error(apperr.Internal("could not update sessions", err))
		return
	}

	h.recordAudit(c, "user", user.ID, "role", gin.H{"role": req.Role})
	c.JSON(http.StatusOK, gin.H{
		"message": "role updated",
		"user":    user,
	})
}

func (h *Handler) DeleteUserHandler(c *gin.Context) {
	adminID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	userID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}
	if userID == adminID {
		_ = c.Error(apperr.BadRequest("you cannot delete yourself"))
		return
	}

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.Tokens.RevokeUserTokens(user.ID); err != nil {
		_ = c.Error(apperr.Internal("could not revoke sessions", err))
		return
	}
	if err := h.DB.Delete(&user).Error; err != nil {
		_ = c.Error(apperr.Internal("could not delete user", err))
		return
	}

	h.recordAudit(c, "user", user.ID, "delete", gin.H{"email": user.Email})
	c.JSON(http.StatusOK, gin.H{
		"message": "user deleted",
	})
}

func (h *Handler) GetAdminOrdersHandler(c *gin.Context) {
	page, err := parsePagination(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	query := h.DB.Model(&models.Order{})
	if status := c.Query("status"); status != "" {
		if !models.IsOrderStatus(status) {
			_ = c.Error(apperr.BadRequest("invalid status"))
			return
		}
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		_ = c.Error(apperr.Internal("could not count orders", err))
		return
	}

	var orders []models.Order
	err = query.
		Preload("OrderItems").
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&orders).
		Error
	if err != nil {
		_ = c.Error(apperr.Internal("could not load orders", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "orders",
		"orders":     orders,
		"pagination": page.meta(total),
	})
}

func findOrder(db *gorm.DB, orderID uint) (*models.Order, error) {
	var order models.Order
	err := db.Preload("OrderItems").First(&order, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatusHandler moves an order along the status workflow.
// Cancelling restocks and refunds; delivering a cash on delivery order marks
// it paid.
func (h *Handler) UpdateOrderStatusHandler(c *gin.Context) {
	orderID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	if !models.IsOrderStatus(req.Status) {
		_ = c.Error(apperr.BadRequest("invalid status"))
		return
	}

	var order *models.Order
	var previous string
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		order, err = findOrder(tx, orderID)
		if err != nil {
			return err
		}
		previous = order.Status

		if req.Status == models.OrderStatusCancelled {
			return h.cancelOrder(c.Request.Context(), tx, order)
		}
		if !models.CanTransitionOrder(order.Status, req.Status) {
			return apperr.BadRequest("cannot change status from " + order.Status + " to " + req.Status)
		}

		now := time.Now()
		updates := map[string]interface{}{}
		if req.Status == models.OrderStatusDelivered {
			updates["delivered_at"] = now
			order.DeliveredAt = &now
			if order.PaymentMethod == models.PaymentMethodCOD && order.PaymentStatus == models.PaymentStatusPending {
				updates["payment_status"] = models.PaymentStatusCompleted
				updates["paid_at"] = now
				order.PaymentStatus = models.PaymentStatusCompleted
				order.PaidAt = &now
			}
		}
		return transitionOrder(tx, order, req.Status, updates)
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	if order.Status == models.OrderStatusCancelled {
		h.refreshBooks(c, orderBookIDs(order))
	}
	h.recordAudit(c, "order", order.ID, "status", gin.H{"from": previous, "to": order.Status})
	c.JSON(http.StatusOK, gin.H{
		"message": "order status updated",
		"order":   order,
	})
}

func (h *Handler) UpdatePaymentStatusHandler(c *gin.Context) {
	orderID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req struct {
		PaymentStatus string `json:"paymentStatus" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	if !models.IsPaymentStatus(req.PaymentStatus) {
		_ = c.Error(apperr.BadRequest("invalid payment status"))
		return
	}

	order, err := findOrder(h.DB, orderID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	previous := order.PaymentStatus
	updates := map[string]interface{}{"payment_status": req.PaymentStatus}
	if req.PaymentStatus == models.PaymentStatusCompleted && order.PaidAt == nil {
		now := time.Now()
		updates["paid_at"] = now
		order.PaidAt = &now
	}
	if err := h.DB.Model(order).Updates(updates).Error; err != nil {
		_ = c.Error(apperr.Internal("could not update payment status", err))
		return
	}
	order.PaymentStatus = req.PaymentStatus

	h.recordAudit(c, "order", order.ID, "payment", gin.H{"from": previous, "to": req.PaymentStatus})
	c.JSON(http.StatusOK, gin.H{
		"message": "payment status updated",
		"order":   order,
	})
}
