package handlers

import (
	"bookmart/apperr"
	"bookmart/cache"
	"bookmart/models"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"math"
	"net/http"
	"time"
)

const (
	revenueMonths   = 6
	topBookCount    = 5
	recentOrderSize = 5
	lowStockLimit   = 10
)

// growthPercent is the month over month change rounded to two decimals. A
// month starting from zero counts as 100% growth when anything happened.
func growthPercent(current, previous float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return math.Round((current-previous)/previous*10000) / 100
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

type monthlyRevenue struct {
	Month   string `json:"month"`
	Revenue int64  `json:"revenue"`
	Orders  int    `json:"orders"`
}

type topBook struct {
	BookID  uint   `json:"bookId"`
	Title   string `json:"title"`
	Units   int64  `json:"units"`
	Revenue int64  `json:"revenue"`
}

type statusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type dashboard struct {
	TotalUsers     int64               `json:"totalUsers"`
	TotalBooks     int64               `json:"totalBooks"`
	TotalOrders    int64               `json:"totalOrders"`
	TotalRevenue   int64               `json:"totalRevenue"`
	UserGrowth     float64             `json:"userGrowth"`
	OrderGrowth    float64             `json:"orderGrowth"`
	RevenueGrowth  float64             `json:"revenueGrowth"`
	OrdersByStatus map[string]int64    `json:"ordersByStatus"`
	MonthlyRevenue []monthlyRevenue    `json:"monthlyRevenue"`
	TopBooks       []topBook           `json:"topBooks"`
	RecentOrders   []models.Order      `json:"recentOrders"`
	LowStockBooks  []cache.BookSummary `json:"lowStockBooks"`
}

// paidOrders selects orders that count as revenue.
func paidOrders(db *gorm.DB) *gorm.DB {
	return db.Model(&models.Order{}).
		Where("status <> ? AND payment_status = ?", models.OrderStatusCancelled, models.PaymentStatusCompleted)
}

func countBetween(db *gorm.DB, model interface{}, from, to time.Time) (int64, error) {
	var n int64
	err := db.Model(model).Where("created_at >= ? AND created_at < ?", from, to).Count(&n).Error
	return n, err
}

func revenueBetween(db *gorm.DB, from, to time.Time) (int64, error) {
	var sum int64
	err := paidOrders(db).
		Where("created_at >= ? AND created_at < ?", from, to).
		Select("COALESCE(SUM(total), 0)").
		Scan(&sum).
		Error
	return sum, err
}

// DashboardHandler gathers the admin overview. The independent aggregates run
// concurrently.
func (h *Handler) DashboardHandler(c *gin.Context) {
	ctx := c.Request.Context()
	db := h.DB.WithContext(ctx)

	now := time.Now()
	thisMonth := monthStart(now)
	lastMonth := thisMonth.AddDate(0, -1, 0)
	nextMonth := thisMonth.AddDate(0, 1, 0)
	firstRevenueMonth := thisMonth.AddDate(0, -(revenueMonths - 1), 0)

	var d dashboard
	var usersCur, usersPrev, ordersCur, ordersPrev, revenueCur, revenuePrev int64

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return db.Model(&models.User{}).Count(&d.TotalUsers).Error })
	g.Go(func() error { return db.Model(&models.Book{}).Count(&d.TotalBooks).Error })
	g.Go(func() error { return db.Model(&models.Order{}).Count(&d.TotalOrders).Error })
	g.Go(func() error {
		return paidOrders(db).Select("COALESCE(SUM(total), 0)").Scan(&d.TotalRevenue).Error
	})
	g.Go(func() (err error) {
		if usersCur, err = countBetween(db, &models.User{}, thisMonth, nextMonth); err != nil {
			return err
		}
		usersPrev, err = countBetween(db, &models.User{}, lastMonth, thisMonth)
		return err
	})
	g.Go(func() (err error) {
		if ordersCur, err = countBetween(db, &models.Order{}, thisMonth, nextMonth); err != nil {
			return err
		}
		ordersPrev, err = countBetween(db, &models.Order{}, lastMonth, thisMonth)
		return err
	})
	g.Go(func() (err error) {
		if revenueCur, err = revenueBetween(db, thisMonth, nextMonth); err != nil {
			return err
		}
		revenuePrev, err = revenueBetween(db, lastMonth, thisMonth)
		return err
	})
	g.Go(func() error {
		var counts []statusCount
		err := db.Model(&models.Order{}).
			Select("status, COUNT(*) AS count").
			Group("status").
			Scan(&counts).
			Error
		if err != nil {
			return err
		}
		d.OrdersByStatus = map[string]int64{
			models.OrderStatusPending:   0,
			models.OrderStatusConfirmed: 0,
			models.OrderStatusShipped:   0,
			models.OrderStatusDelivered: 0,
			models.OrderStatusCancelled: 0,
		}
		for _, sc := range counts {
			d.OrdersByStatus[sc.Status] = sc.Count
		}
		return nil
	})
	g.Go(func() error {
		var rows []struct {
			CreatedAt time.Time
			Total     int64
		}
		err := paidOrders(db).
			Select("created_at, total").
			Where("created_at >= ?", firstRevenueMonth).
			Scan(&rows).
			Error
		if err != nil {
			return err
		}

		d.MonthlyRevenue = make([]monthlyRevenue, revenueMonths)
		index := make(map[string]int, revenueMonths)
		for i := 0; i < revenueMonths; i++ {
			month := firstRevenueMonth.AddDate(0, i, 0).Format("2006-01")
			d.MonthlyRevenue[i].Month = month
			index[month] = i
		}
		for _, row := range rows {
			if i, ok := index[row.CreatedAt.In(now.Location()).Format("2006-01")]; ok {
				d.MonthlyRevenue[i].Revenue += row.Total
				d.MonthlyRevenue[i].Orders++
			}
		}
		return nil
	})
	g.Go(func() error {
		d.TopBooks = []topBook{}
		return db.Table("order_items").
			Select("order_items.book_id, MAX(order_items.title) AS title, SUM(order_items.quantity) AS units, SUM(order_items.price * order_items.quantity) AS revenue").
			Joins("JOIN orders ON orders.id = order_items.order_id").
			Where("orders.status <> ? AND orders.deleted_at IS NULL AND order_items.deleted_at IS NULL", models.OrderStatusCancelled).
			Group("order_items.book_id").
			Order("units DESC, order_items.book_id ASC").
			Limit(topBookCount).
			Scan(&d.TopBooks).
			Error
	})
	g.Go(func() error {
		d.RecentOrders = []models.Order{}
		return db.Preload("OrderItems").Order("id DESC").Limit(recentOrderSize).Find(&d.RecentOrders).Error
	})
	g.Go(func() error {
		var books []models.Book
		err := db.Where("stock <= ?", h.Config.Shop.LowStockThreshold).
			Order("stock ASC, id ASC").
			Limit(lowStockLimit).
			Find(&books).
			Error
		if err != nil {
			return err
		}
		d.LowStockBooks = make([]cache.BookSummary, 0, len(books))
		for i := range books {
			d.LowStockBooks = append(d.LowStockBooks, cache.Summarize(&books[i]))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		_ = c.Error(apperr.Internal("could not build dashboard", err))
		return
	}

	d.UserGrowth = growthPercent(float64(usersCur), float64(usersPrev))
	d.OrderGrowth = growthPercent(float64(ordersCur), float64(ordersPrev))
	d.RevenueGrowth = growthPercent(float64(revenueCur), float64(revenuePrev))

	c.JSON(http.StatusOK, gin.H{
		"message":   "dashboard",
		"dashboard": d,
	})
}
