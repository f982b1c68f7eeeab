package config

import (
	"bookmart/logger"
	"bookmart/models"
	"context"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"time"
)

func SetupMySQLConnection(config Config) (*gorm.DB, error) {
	level := gormlogger.Warn
	if config.Log.Level == "debug" {
		level = gormlogger.Info
	}

	db, err := gorm.Open(mysql.Open(config.MySQLDSN()), &gorm.Config{
		Logger:         logger.NewGormLogger(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.LoginToken{},
		&models.Category{},
		&models.Book{},
		&models.Review{},
		&models.Cart{},
		&models.CartItem{},
		&models.Wishlist{},
		&models.Address{},
		&models.Order{},
		&models.OrderItem{},
	)
}

func SetupRedisConnection(config Config) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, err
	}

	return redisClient, nil
}
