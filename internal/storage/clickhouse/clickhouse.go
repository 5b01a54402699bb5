package clickhouse

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const defaultNativePort = "9000"

// Conn is a native-protocol connection to the archive database.
type Conn struct {
	driver.Conn
}

type chRows = driver.Rows

// NewConn connects to the database named in dsn.
func NewConn(ctx context.Context, dsn string) (*Conn, error) {
	return NewConnWithDatabase(ctx, dsn, "")
}

// NewConnWithDatabase overrides the DSN database when database is set.
// Migrations use it with "default" to create the archive database first.
func NewConnWithDatabase(ctx context.Context, dsn, database string) (*Conn, error) {
	opts, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if database != "" {
		opts.Auth.Database = database
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse %v: %w", opts.Addr, err)
	}
	return &Conn{Conn: conn}, nil
}

// parseDSN accepts clickhouse:// and tcp:// URLs. Batches need the native
// protocol, so HTTP endpoints are rejected.
func parseDSN(dsn string) (*clickhouse.Options, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "clickhouse" && u.Scheme != "tcp" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	opts.Protocol = clickhouse.Native
	for i, addr := range opts.Addr {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			opts.Addr[i] = net.JoinHostPort(addr, defaultNativePort)
		}
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Compression == nil {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}
	return opts, nil
}
