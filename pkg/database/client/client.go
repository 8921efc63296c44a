/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"time"

	"github.com/jmoiron/sqlx"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/config"
	dbutils "github.com/vault-appliance/vault/pkg/database/utils"
	"github.com/vault-appliance/vault/pkg/utils/backoff"
)

type Client struct {
	db             *sqlx.DB
	RequestTimeout time.Duration
}

// NewClient connects to the appliance database and applies pending schema
// migrations.
func NewClient() (*Client, error) {
	cfg := &dbutils.DBConfig{
		DBName:         config.GetDBName(),
		Username:       config.GetDBUser(),
		Password:       config.GetDBPassword(),
		Host:           config.GetDBHost(),
		Port:           config.GetDBPort(),
		SSLMode:        config.GetDBSSLMode(),
		MaxOpenConns:   config.GetDBMaxOpenConns(),
		MaxIdleConns:   config.GetDBMaxIdleConns(),
		MaxIdleTime:    time.Minute,
		MaxLifetime:    time.Hour,
		ConnectTimeout: 10,
	}
	// the database unit may still be starting when the control plane comes up
	var db *sqlx.DB
	err := backoff.Retry(func() error {
		var err error
		db, err = dbutils.Connect(cfg, dbutils.PgDriver)
		if err != nil {
			klog.ErrorS(err, "database not ready, retrying")
		}
		return err
	}, 5, 3*time.Second, nil)
	if err != nil {
		return nil, err
	}
	if err = dbutils.Migrate(db); err != nil {
		klog.ErrorS(err, "failed to migrate schema")
		return nil, err
	}
	return &Client{db: db, RequestTimeout: 20 * time.Second}, nil
}

// NewClientWithDB wraps an existing connection; used by tests.
func NewClientWithDB(db *sqlx.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
