// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package s3pool provides a fixed-size pool of S3 client connections.
// Writers borrow a connection per upload and return it when done, so
// the number of concurrent requests against the object store is
// bounded by the pool size regardless of how many flush jobs are in
// flight.
package s3pool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"runtime"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the parameters for opening an S3 connection pool.
// Endpoint and Bucket are required.
type Config struct {
	// Endpoint is the S3 service endpoint, with or without a scheme:
	// "https://s3.amazonaws.com", "localhost:9000".
	Endpoint string

	// Bucket is the destination bucket. It must already exist; Open
	// verifies this.
	Bucket string

	// Region is the bucket region. Optional; many S3-compatible
	// stores ignore it.
	Region string

	// AccessKeyID and SecretAccessKey are the credentials. If both
	// are empty, they are read from the AWS_ACCESS_KEY_ID and
	// AWS_SECRET_ACCESS_KEY environment variables.
	AccessKeyID     string
	SecretAccessKey string

	// Size is the number of pooled connections. If zero or negative,
	// defaults to runtime.NumCPU.
	Size int

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Connection is one pooled S3 client. Connections are not safe for
// concurrent use; each goroutine must Take its own and Put it back.
type Connection struct {
	client *minio.Client
	bucket string
}

// Bucket returns the bucket this connection targets.
func (c *Connection) Bucket() string { return c.bucket }

// PutObject uploads a complete object. Uploads larger than partSize
// are split into a multipart upload by the client.
func (c *Connection) PutObject(ctx context.Context, key string, body io.Reader, size int64, partSize uint64) error {
	_, err := c.client.PutObject(ctx, c.bucket, key, body, size, minio.PutObjectOptions{PartSize: partSize})
	if err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}
	return nil
}

// Pool is a fixed-size pool of S3 connections. Safe for concurrent
// use.
type Pool struct {
	connections chan *Connection
	bucket      string
	logger      *slog.Logger
}

// Open creates the pool and verifies that the configured bucket
// exists. The caller must call Close when the pool is no longer
// needed.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3pool: Endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3pool: Bucket is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	size := cfg.Size
	if size <= 0 {
		size = runtime.NumCPU()
		if size < 1 {
			size = 1
		}
	}

	host, secure, err := splitEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("s3pool: %w", err)
	}

	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" && secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	pool := &Pool{
		connections: make(chan *Connection, size),
		bucket:      cfg.Bucket,
		logger:      logger,
	}
	for i := 0; i < size; i++ {
		client, err := minio.New(host, &minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: secure,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("s3pool: creating client: %w", err)
		}
		pool.connections <- &Connection{client: client, bucket: cfg.Bucket}
	}

	// Probe the connection before any data is queued behind it.
	conn := pool.Take(ctx)
	exists, err := conn.client.BucketExists(ctx, cfg.Bucket)
	pool.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("s3pool: checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("s3pool: bucket %q does not exist", cfg.Bucket)
	}

	logger.Info("s3 pool opened",
		"endpoint", host,
		"bucket", cfg.Bucket,
		"pool_size", size,
	)
	return pool, nil
}

// Take borrows a connection, blocking until one is available or the
// context is cancelled (in which case it returns nil).
func (p *Pool) Take(ctx context.Context) *Connection {
	select {
	case conn := <-p.connections:
		return conn
	case <-ctx.Done():
		return nil
	}
}

// Put returns a connection to the pool. Put of a nil connection is a
// no-op.
func (p *Pool) Put(conn *Connection) {
	if conn == nil {
		return
	}
	p.connections <- conn
}

// Bucket returns the bucket the pool targets.
func (p *Pool) Bucket() string { return p.bucket }

// Close releases the pool. Outstanding connections become invalid.
func (p *Pool) Close() {
	close(p.connections)
	p.logger.Info("s3 pool closed", "bucket", p.bucket)
}

// splitEndpoint separates an endpoint into the host form minio
// expects and a TLS flag. A missing scheme implies TLS unless the
// host is local.
func splitEndpoint(endpoint string) (host string, secure bool, err error) {
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", false, fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
		}
		switch u.Scheme {
		case "https":
			return u.Host, true, nil
		case "http":
			return u.Host, false, nil
		default:
			return "", false, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
		}
	}
	local := strings.HasPrefix(endpoint, "localhost") || strings.HasPrefix(endpoint, "127.0.0.1")
	return endpoint, !local, nil
}
