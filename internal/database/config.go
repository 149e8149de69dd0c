package database

import (
	"errors"
	"net/url"
	"strconv"
)

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// Validate checks the fields a connection cannot do without.
func (c DBConfig) Validate() error {
	if c.User == "" || c.Host == "" || c.Port == "" || c.DBName == "" {
		return errors.New("DB config incomplete: DB_USER/DB_HOST/DB_PORT/DB_NAME must be set")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("DB_PORT must be numeric")
	}
	return nil
}

func (c DBConfig) sslMode() string {
	if c.SSLMode == "" {
		return "disable"
	}
	return c.SSLMode
}

// TargetDSN builds a URL-encoded postgres:// DSN for the pgx pool.
func (c DBConfig) TargetDSN() string {
	return c.dsn("postgres")
}

// MigrateDSN builds the same DSN with the scheme golang-migrate's pgx/v5
// driver registers.
func (c DBConfig) MigrateDSN() string {
	return c.dsn("pgx5")
}

func (c DBConfig) dsn(scheme string) string {
	u := &url.URL{
		Scheme: scheme,
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", c.sslMode())
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted is the DSN with the password masked, for logs.
func (c DBConfig) Redacted() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.User(c.User),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.DBName,
	}
	return u.String()
}
