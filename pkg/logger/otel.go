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

package logger

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/grpc/credentials"
)

var errFailedToParseCACert = errors.New("failed to parse CA certificate")

// OTelConfig configures the OTLP gRPC exporters used for traces and metrics.
type OTelConfig struct {
	Enabled      bool              `json:"enabled"`
	Endpoint     string            `json:"endpoint"`
	Headers      map[string]string `json:"headers"`
	ServiceName  string            `json:"service_name"`
	BatchTimeout Duration          `json:"batch_timeout"`
	Insecure     bool              `json:"insecure"`
	CertDir      string            `json:"cert_dir,omitempty"`
	TLS          *TLSConfig        `json:"tls,omitempty"`
}

// TLSConfig holds collector client certificates. Relative paths resolve
// against OTelConfig.CertDir.
type TLSConfig struct {
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	CAFile     string `json:"ca_file,omitempty"`
	ServerName string `json:"server_name,omitempty"`
}

func (c *OTelConfig) exporting() bool {
	return c != nil && c.Enabled && strings.TrimSpace(c.Endpoint) != ""
}

// transport reports how exporters reach the collector: plaintext when
// insecure is true, otherwise creds (nil means the gRPC default TLS).
func (c *OTelConfig) transport() (creds credentials.TransportCredentials, insecure bool, err error) {
	if c.Insecure {
		return nil, true, nil
	}

	if c.TLS == nil {
		return nil, false, nil
	}

	tlsConf, err := c.clientTLS()
	if err != nil {
		return nil, false, err
	}

	return credentials.NewTLS(tlsConf), false, nil
}

func (c *OTelConfig) clientTLS() (*tls.Config, error) {
	conf := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: c.TLS.ServerName,
	}

	certFile := c.certPath(c.TLS.CertFile)
	keyFile := c.certPath(c.TLS.KeyFile)

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		conf.Certificates = []tls.Certificate{cert}
	}

	if caFile := c.certPath(c.TLS.CAFile); caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errFailedToParseCACert
		}

		conf.RootCAs = pool
	}

	return conf, nil
}

func (c *OTelConfig) certPath(path string) string {
	if path == "" || filepath.IsAbs(path) || c.CertDir == "" {
		return path
	}

	return filepath.Join(c.CertDir, path)
}
