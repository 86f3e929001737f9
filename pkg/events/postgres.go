/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package events

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
)

// DefaultTable holds device events in the backend database.
const DefaultTable = "device_events"

var (
	errInvalidTable       = errors.New("events: invalid table name")
	errTLSFilesRequired   = errors.New("cnpg tls: cert_file, key_file, and ca_file are required")
	errAppendCA           = errors.New("cnpg tls: unable to append CA certificate")
	errDatabaseNotEnabled = errors.New("events: database not configured")

	tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

// Querier is the subset of *pgxpool.Pool the store uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore reads events straight from the backend's CNPG cluster. It
// serves the same queries as GatewaySource when the database is reachable.
type PostgresStore struct {
	db     Querier
	table  string
	logger logger.Logger
	nowFn  func() time.Time
}

func NewPostgresStore(db Querier, table string, log logger.Logger) (*PostgresStore, error) {
	if table == "" {
		table = DefaultTable
	}

	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", errInvalidTable, table)
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &PostgresStore{db: db, table: table, logger: log, nowFn: time.Now}, nil
}

func (s *PostgresStore) Events(ctx context.Context, q models.EventQuery) ([]models.Event, error) {
	q = NormalizeQuery(q)

	sql, args := buildEventsQuery(s.table, q, s.nowFn())

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: events query: %w", models.ErrUpstreamUnavailable, err)
	}
	defer rows.Close()

	out := make([]models.Event, 0, q.Limit)

	for rows.Next() {
		var (
			ev      models.Event
			payload []byte
		)

		if err := rows.Scan(&ev.ID, &ev.Device, &ev.Kind, &ev.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("%w: events scan: %w", models.ErrUpstreamUnavailable, err)
		}

		ev.Payload = payload
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: events rows: %w", models.ErrUpstreamUnavailable, err)
	}

	// Rows arrive newest first so LIMIT keeps the most recent events.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	s.logger.Debug().
		Str("device", q.Device).
		Str("kind", q.Kind).
		Int("rows", len(out)).
		Msg("Read events from CNPG")

	return out, nil
}

func buildEventsQuery(table string, q models.EventQuery, now time.Time) (string, []any) {
	var (
		where []string
		args  []any
	)

	if q.Device != "" {
		args = append(args, q.Device)
		where = append(where, "lower(device) = lower($"+strconv.Itoa(len(args))+")")
	}

	if q.Kind != "" {
		args = append(args, strings.ToLower(q.Kind))
		n := strconv.Itoa(len(args))
		where = append(where, "(lower(kind) = $"+n+" OR lower(kind) LIKE $"+n+" || '.%')")
	}

	if q.Range > 0 {
		args = append(args, now.Add(-q.Range).UTC())
		where = append(where, "event_timestamp >= $"+strconv.Itoa(len(args)))
	}

	var b strings.Builder

	b.WriteString("SELECT id, device, kind, event_timestamp, payload FROM ")
	b.WriteString(table)

	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	args = append(args, q.Limit)
	b.WriteString(" ORDER BY event_timestamp DESC LIMIT $" + strconv.Itoa(len(args)))

	return b.String(), args
}

// NewPool dials the configured CNPG cluster and returns a pgx pool.
func NewPool(ctx context.Context, cfg *models.CNPGDatabase, log logger.Logger) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.Host) == "" {
		return nil, errDatabaseNotEnabled
	}

	connURL := buildConnURL(cfg)

	poolConfig, err := pgxpool.ParseConfig(connURL.String())
	if err != nil {
		return nil, fmt.Errorf("cnpg: failed to parse connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}

	if cfg.MinConnections > 0 {
		poolConfig.MinConns = cfg.MinConnections
	}

	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime)
	}

	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = time.Duration(cfg.HealthCheckPeriod)
	}

	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}

	for k, v := range cfg.ExtraRuntimeParams {
		if k == "" {
			continue
		}

		poolConfig.ConnConfig.RuntimeParams[k] = v
	}

	if cfg.StatementTimeout > 0 {
		ms := time.Duration(cfg.StatementTimeout) / time.Millisecond
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(int64(ms), 10)
	}

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	if tlsConfig != nil {
		poolConfig.ConnConfig.TLSConfig = tlsConfig
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("cnpg: failed to initialize pool: %w", err)
	}

	if log != nil {
		log.Info().
			Str("host", cfg.Host).
			Str("port", connURL.Port()).
			Int32("max_conns", poolConfig.MaxConns).
			Msg("Connected to CNPG event store")
	}

	return pool, nil
}

func buildConnURL(cfg *models.CNPGDatabase) *url.URL {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	connURL := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:   "/" + cfg.Database,
	}

	if cfg.Username != "" {
		if cfg.Password != "" {
			connURL.User = url.UserPassword(cfg.Username, cfg.Password)
		} else {
			connURL.User = url.User(cfg.Username)
		}
	}

	query := connURL.Query()

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
		if cfg.TLS != nil {
			sslMode = "verify-full"
		}
	}

	query.Set("sslmode", sslMode)

	appName := cfg.ApplicationName
	if appName == "" {
		appName = "fleetview"
	}

	query.Set("application_name", appName)

	connURL.RawQuery = query.Encode()

	return connURL
}

func buildTLSConfig(cfg *models.CNPGDatabase) (*tls.Config, error) {
	if cfg.TLS == nil {
		return nil, nil
	}

	resolve := func(path string) string {
		if path == "" || filepath.IsAbs(path) || cfg.CertDir == "" {
			return path
		}

		return filepath.Join(cfg.CertDir, path)
	}

	certFile := resolve(cfg.TLS.CertFile)
	keyFile := resolve(cfg.TLS.KeyFile)
	caFile := resolve(cfg.TLS.CAFile)

	if certFile == "" || keyFile == "" || caFile == "" {
		return nil, errTLSFilesRequired
	}

	clientCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("cnpg tls: failed to load client keypair: %w", err)
	}

	caBytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("cnpg tls: failed to read CA file: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caBytes) {
		return nil, errAppendCA
	}

	return &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
		ServerName:   cfg.Host,
	}, nil
}
