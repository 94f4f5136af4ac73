package conn

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
	defaultMaxOpenConns    = 8
	defaultConnMaxLifetime = 30 * time.Minute
)

// Option defines connection options for PostgreSQL.
type Option struct {
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	User            string            `mapstructure:"user"`
	Password        string            `mapstructure:"password"`
	Database        string            `mapstructure:"database"`
	SSLMode         string            `mapstructure:"sslmode"`
	Params          map[string]string `mapstructure:"params"`
	ConnString      string            `mapstructure:"dsn"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration     `mapstructure:"conn_max_lifetime"`
	Verbose         bool              `mapstructure:"verbose"`
	Config          *gorm.Config      `mapstructure:"-"`
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New connects, sizes the pool and pings the server.
func New(ctx context.Context, option Option) (*Client, error) {
	connString, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		level := logger.Silent
		if option.Verbose {
			level = logger.Info
		}
		config = &gorm.Config{Logger: logger.Default.LogMode(level)}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "postgres pool")
	}
	maxOpen := option.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	lifetime := option.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnMaxLifetime
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen / 2)
	sqlDB.SetConnMaxLifetime(lifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Migrate creates or updates the tables of models.
func (c *Client) Migrate(ctx context.Context, models ...any) error {
	if c == nil || c.db == nil {
		return errors.New("postgres client not connected")
	}
	return c.db.WithContext(ctx).AutoMigrate(models...)
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}
	if opt.Database == "" {
		return "", errors.New("postgres database name is required")
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + opt.Database,
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}
