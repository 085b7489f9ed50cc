// Copyright 2023 Telefonica Investigación y Desarrollo, S.A.U
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the user-visible configuration surface for the
// STH server: flags, their environment-variable equivalents, and the
// Preflight validation that must pass before the server can start.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pasquy73/fiware-sth-comet/internal/types"
)

// NamingMode selects how the namespace resolver derives collection
// identifiers.
type NamingMode string

const (
	// PathNaming concatenates tuple fields with a separator, falling
	// back to hashing on overflow.
	PathNaming NamingMode = "path"
	// HashNaming always hashes the tuple.
	HashNaming NamingMode = "hash"
	// PathStrictNaming concatenates tuple fields like PathNaming but
	// disables the hash fallback: an overflowing collection name is
	// reported as ident.ErrIdentifierTooLong by the request that
	// resolves it, instead of silently renaming the collection.
	PathStrictNaming NamingMode = "path-strict"
)

// Config contains every recognised STH_* / DB_* configuration option.
type Config struct {
	DBURI             string
	DBAuthentication  string
	ReplicaSet        string
	PoolSize          int
	DefaultService    string
	DefaultServicePath string

	STHHost string
	STHPort int

	ShouldStore       string
	IgnoreBlankSpaces bool
	FilterOutEmpty    bool

	UnicaCorrelatorHeader string

	NamingMode string

	TruncationMaxAge  time.Duration
	TruncationMaxSize int64

	EnableAttributeListing bool
}

// New returns a Config populated with the same defaults the server has
// always shipped with.
func New() *Config {
	return &Config{
		DBURI:                 "postgres://localhost:26257/sth?sslmode=disable",
		PoolSize:              20,
		DefaultService:        "test",
		DefaultServicePath:    "/",
		STHHost:               "0.0.0.0",
		STHPort:               8666,
		ShouldStore:           "BOTH",
		IgnoreBlankSpaces:     true,
		FilterOutEmpty:        false,
		UnicaCorrelatorHeader: "Unica-Correlator",
		NamingMode:            string(PathNaming),
	}
}

// Bind registers every flag, wires it to its environment-variable
// counterpart through viper, and returns a function that must be
// called after pflag.Parse to copy the resolved values back into cfg.
func (c *Config) Bind(flags *pflag.FlagSet, v *viper.Viper) func() error {
	flags.StringVar(&c.DBURI, "dbURI", c.DBURI, "document store connection URI")
	flags.StringVar(&c.DBAuthentication, "dbAuthentication", c.DBAuthentication, "document store authentication string")
	flags.StringVar(&c.ReplicaSet, "replicaSet", c.ReplicaSet, "document store replica set name")
	flags.IntVar(&c.PoolSize, "poolSize", c.PoolSize, "document store connection pool size")
	flags.StringVar(&c.DefaultService, "defaultService", c.DefaultService, "fiware-service used when the header is absent on /notify")
	flags.StringVar(&c.DefaultServicePath, "defaultServicePath", c.DefaultServicePath, "fiware-servicepath used when the header is absent on /notify")
	flags.StringVar(&c.STHHost, "sthHost", c.STHHost, "address to bind the HTTP listener to")
	flags.IntVar(&c.STHPort, "sthPort", c.STHPort, "port to bind the HTTP listener to")
	flags.StringVar(&c.ShouldStore, "shouldStore", c.ShouldStore, "ONLY_RAW, ONLY_AGGREGATED or BOTH")
	flags.BoolVar(&c.IgnoreBlankSpaces, "ignoreBlankSpaces", c.IgnoreBlankSpaces, "trim and drop whitespace-only string attribute values")
	flags.BoolVar(&c.FilterOutEmpty, "filterOutEmpty", c.FilterOutEmpty, "omit samples=0 slots from aggregate query responses by default")
	flags.StringVar(&c.UnicaCorrelatorHeader, "unicaCorrelatorHeader", c.UnicaCorrelatorHeader, "name of the correlator header to echo back")
	flags.StringVar(&c.NamingMode, "namingMode", c.NamingMode, "path, hash or path-strict: collection-name derivation mode")
	flags.DurationVar(&c.TruncationMaxAge, "truncationMaxAge", c.TruncationMaxAge, "age after which documents are truncated; 0 disables")
	flags.Int64Var(&c.TruncationMaxSize, "truncationMaxSize", c.TruncationMaxSize, "document-count cap per collection; 0 disables")
	flags.BoolVar(&c.EnableAttributeListing, "enableAttributeListing", c.EnableAttributeListing, "enable the supplementary attribute-listing endpoint")

	for _, name := range []string{
		"dbURI", "dbAuthentication", "replicaSet", "poolSize", "defaultService",
		"defaultServicePath", "sthHost", "sthPort", "shouldStore", "ignoreBlankSpaces",
		"filterOutEmpty", "unicaCorrelatorHeader", "namingMode", "truncationMaxAge",
		"truncationMaxSize", "enableAttributeListing",
	} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
	v.SetEnvKeyMap(map[string]string{
		"dbURI":                  "DB_URI",
		"dbAuthentication":       "DB_AUTHENTICATION",
		"replicaSet":             "REPLICA_SET",
		"poolSize":               "POOL_SIZE",
		"defaultService":         "DEFAULT_SERVICE",
		"defaultServicePath":     "DEFAULT_SERVICE_PATH",
		"sthHost":                "STH_HOST",
		"sthPort":                "STH_PORT",
		"shouldStore":            "SHOULD_STORE",
		"ignoreBlankSpaces":      "IGNORE_BLANK_SPACES",
		"filterOutEmpty":         "FILTER_OUT_EMPTY",
		"unicaCorrelatorHeader":  "UNICA_CORRELATOR_HEADER",
		"namingMode":             "COLLECTION_NAME_MODE",
		"truncationMaxAge":       "TRUNCATION_EXPIRE_AFTER",
		"truncationMaxSize":      "TRUNCATION_SIZE",
		"enableAttributeListing": "ENABLE_ATTRIBUTE_LISTING",
	})

	return func() error { return c.applyEnv(v) }
}

// applyEnv binds each viper key, preferring an explicitly-set
// environment variable over the flag default.
func (c *Config) applyEnv(v *viper.Viper) error {
	for key, env := range map[string]string{
		"dbURI": "DB_URI", "dbAuthentication": "DB_AUTHENTICATION", "replicaSet": "REPLICA_SET",
		"defaultService": "DEFAULT_SERVICE", "defaultServicePath": "DEFAULT_SERVICE_PATH",
		"sthHost": "STH_HOST", "shouldStore": "SHOULD_STORE",
		"unicaCorrelatorHeader": "UNICA_CORRELATOR_HEADER", "namingMode": "COLLECTION_NAME_MODE",
		"ignoreBlankSpaces": "IGNORE_BLANK_SPACES", "filterOutEmpty": "FILTER_OUT_EMPTY",
		"truncationMaxAge": "TRUNCATION_EXPIRE_AFTER", "truncationMaxSize": "TRUNCATION_SIZE",
		"enableAttributeListing": "ENABLE_ATTRIBUTE_LISTING",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return errors.Wrapf(err, "binding %s", env)
		}
	}
	c.DBURI = v.GetString("dbURI")
	c.DBAuthentication = v.GetString("dbAuthentication")
	c.ReplicaSet = v.GetString("replicaSet")
	if v.IsSet("poolSize") {
		c.PoolSize = v.GetInt("poolSize")
	}
	c.DefaultService = v.GetString("defaultService")
	c.DefaultServicePath = v.GetString("defaultServicePath")
	c.STHHost = v.GetString("sthHost")
	if v.IsSet("sthPort") {
		c.STHPort = v.GetInt("sthPort")
	}
	c.ShouldStore = v.GetString("shouldStore")
	c.UnicaCorrelatorHeader = v.GetString("unicaCorrelatorHeader")
	c.NamingMode = v.GetString("namingMode")
	if v.IsSet("ignoreBlankSpaces") {
		c.IgnoreBlankSpaces = v.GetBool("ignoreBlankSpaces")
	}
	if v.IsSet("filterOutEmpty") {
		c.FilterOutEmpty = v.GetBool("filterOutEmpty")
	}
	if v.IsSet("truncationMaxAge") {
		c.TruncationMaxAge = v.GetDuration("truncationMaxAge")
	}
	if v.IsSet("truncationMaxSize") {
		c.TruncationMaxSize = v.GetInt64("truncationMaxSize")
	}
	if v.IsSet("enableAttributeListing") {
		c.EnableAttributeListing = v.GetBool("enableAttributeListing")
	}
	return nil
}

// Preflight validates the resolved configuration before the server
// binds its listener or opens the pool.
func (c *Config) Preflight() error {
	if c.DBURI == "" {
		return errors.New("dbURI unset")
	}
	if c.PoolSize <= 0 {
		return errors.New("poolSize must be positive")
	}
	if c.STHPort <= 0 || c.STHPort > 65535 {
		return errors.Errorf("sthPort %d out of range", c.STHPort)
	}
	if _, err := types.ParseStoreMode(c.ShouldStore); err != nil {
		return err
	}
	switch NamingMode(c.NamingMode) {
	case PathNaming, HashNaming, PathStrictNaming:
	default:
		return errors.Errorf("namingMode must be %q, %q or %q, got %q", PathNaming, HashNaming, PathStrictNaming, c.NamingMode)
	}
	if c.DefaultService == "" {
		return errors.New("defaultService unset")
	}
	if c.DefaultServicePath == "" {
		return errors.New("defaultServicePath unset")
	}
	return nil
}

// StoreMode parses the resolved ShouldStore value.
func (c *Config) StoreMode() types.StoreMode {
	mode, _ := types.ParseStoreMode(c.ShouldStore)
	return mode
}
