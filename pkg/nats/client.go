// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nats fans sentineld's pipeline events out to other
// processes. The collector publishes DATE_CHANGED/BATCH_CHANGED
// notices and the punish stage publishes escalation decisions; the UI
// and the enforcement module subscribe to them from their own
// processes. The broker is strictly optional: with no address
// configured nothing connects and every publish is dropped, because
// no stage's own correctness may ever depend on delivery.
//
// Configured from the "events" section of the config file:
//
//	{
//	  "events": {
//	    "address": "nats://localhost:4222",
//	    "username": "sentinel",
//	    "password": "secret"
//	  }
//	}
//
// A creds_file_path may be given instead of username/password.
package nats

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/sentinel-ops/sentinel/pkg/log"
)

// NatsConfig describes how to reach the broker. Leaving Address empty
// disables NATS entirely.
type NatsConfig struct {
	Address       string `json:"address,omitempty"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"creds_file_path,omitempty"`
}

// Keys holds the effective NATS configuration, set once via Init
// before Connect is called.
var Keys NatsConfig

// Init assigns the process-wide NATS configuration.
func Init(cfg NatsConfig) {
	Keys = cfg
}

var (
	clientOnce     sync.Once
	clientInstance *Client
)

// Client wraps one NATS connection and the subscriptions opened on it.
type Client struct {
	conn          *nats.Conn
	subscriptions []*nats.Subscription
	mu            sync.Mutex
}

// MessageHandler processes one received message.
type MessageHandler func(subject string, data []byte)

// Connect dials the broker named in Keys, once. A missing address or a
// failed dial leaves the singleton nil; publishers treat that as "no
// broker" and carry on.
func Connect() {
	clientOnce.Do(func() {
		if Keys.Address == "" {
			log.Debug("nats: no address configured, events stay local")
			return
		}
		client, err := NewClient(&Keys)
		if err != nil {
			log.Warnf("nats: connect failed, events stay local: %v", err)
			return
		}
		clientInstance = client
	})
}

// GetClient returns the singleton client, or nil when Connect never
// reached the broker.
func GetClient() *Client {
	return clientInstance
}

// NewClient dials the broker described by cfg.
func NewClient(cfg *NatsConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("nats: address is required")
	}

	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats: reconnected to %s", nc.ConnectedUrl())
		}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.Address, err)
	}
	log.Infof("nats: connected to %s", cfg.Address)
	return &Client{conn: nc}, nil
}

// Publish sends data to subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats: publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for messages on subject.
func (c *Client) Subscribe(subject string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats: subscribe to %s: %w", subject, err)
	}
	c.subscriptions = append(c.subscriptions, sub)
	return nil
}

// IsConnected reports whether the broker link is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drops every subscription and the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			log.Warnf("nats: unsubscribe: %v", err)
		}
	}
	c.subscriptions = nil

	if c.conn != nil {
		c.conn.Close()
	}
}
