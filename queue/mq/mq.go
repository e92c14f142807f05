/* Copyright 2025 RBurson Acme, LLC
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

// Package mq is a queue.Queue backed by an MQTT broker.
//
// Messages are JSON on MQTT topics.  Acknowledgement is the broker's
// business (QoS), so Delete is a no-op and Requeue republishes.
package mq

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rburson-acme/new-rules-sub003/queue"
)

var TokenTimeout = errors.New("mqtt token timeout")

// Options are the MQTT connection knobs.
type Options struct {
	BrokerURL string `json:"brokerUrl" yaml:"brokerUrl"`
	ClientId  string `json:"clientId" yaml:"clientId"`
	Username  string `json:"username,omitempty" yaml:",omitempty"`
	Password  string `json:"password,omitempty" yaml:",omitempty"`

	KeepAlive     time.Duration `json:"keepAlive,omitempty" yaml:"keepAlive,omitempty"`
	CleanSession  bool          `json:"cleanSession" yaml:"cleanSession"`
	AutoReconnect bool          `json:"autoReconnect" yaml:"autoReconnect"`

	QoS    byte `json:"qos" yaml:"qos"`
	Retain bool `json:"retain" yaml:"retain"`

	// TLS.  CertFile and KeyFile enable a client certificate, and
	// CAFile adds to the system root pool.
	CertFile string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile  string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	CAFile   string `json:"caFile,omitempty" yaml:"caFile,omitempty"`
	Insecure bool   `json:"insecure,omitempty" yaml:"insecure,omitempty"`

	// TokenTimeout bounds waits on MQTT operations (connect,
	// subscribe, publish).
	TokenTimeout time.Duration `json:"tokenTimeout,omitempty" yaml:"tokenTimeout,omitempty"`

	// Inbox is the buffer size for each subscription.
	Inbox int `json:"inbox,omitempty" yaml:",omitempty"`

	Logf func(format string, args ...interface{}) `json:"-" yaml:"-"`
}

func (o *Options) logf(format string, args ...interface{}) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

func (o *Options) tlsConfig() (*tls.Config, error) {
	conf := &tls.Config{
		InsecureSkipVerify: o.Insecure,
	}

	if o.CAFile != "" {
		pool, _ := x509.SystemCertPool()
		if pool == nil {
			pool = x509.NewCertPool()
		}
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, err
		}
		if ok := pool.AppendCertsFromPEM(pem); !ok {
			o.logf("mq: no certs appended from %s", o.CAFile)
		}
		conf.RootCAs = pool
	}

	if o.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, err
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	return conf, nil
}

type Queue struct {
	opts   Options
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]chan *queue.Message
}

// NewQueue connects to the broker.
func NewQueue(opts Options) (*Queue, error) {
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 10 * time.Second
	}
	if opts.TokenTimeout == 0 {
		opts.TokenTimeout = 10 * time.Second
	}
	if opts.Inbox == 0 {
		opts.Inbox = 1024
	}
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}

	copts := mqtt.NewClientOptions()
	copts.AddBroker(opts.BrokerURL)
	copts.SetClientID(opts.ClientId)
	copts.SetKeepAlive(opts.KeepAlive)
	copts.SetPingTimeout(10 * time.Second)
	copts.Username = opts.Username
	copts.Password = opts.Password
	copts.CleanSession = opts.CleanSession
	copts.AutoReconnect = opts.AutoReconnect

	if opts.CertFile != "" || opts.CAFile != "" || opts.Insecure {
		conf, err := opts.tlsConfig()
		if err != nil {
			return nil, err
		}
		copts.SetTLSConfig(conf)
	}

	copts.OnConnectionLost = func(client mqtt.Client, err error) {
		opts.logf("mq: connection lost: %v", err)
	}

	q := &Queue{
		opts: opts,
		subs: make(map[string]chan *queue.Message),
	}
	q.client = mqtt.NewClient(copts)

	if err := q.wait(q.client.Connect()); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) wait(t mqtt.Token) error {
	if !t.WaitTimeout(q.opts.TokenTimeout) {
		return TokenTimeout
	}
	return t.Error()
}

func (q *Queue) Push(ctx context.Context, m *queue.Message) error {
	m.Attempts++
	bs, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return q.wait(q.client.Publish(m.Topic, q.opts.QoS, q.opts.Retain, bs))
}

// Pop subscribes to the topic on first use and then delivers decoded
// messages.  Payloads that don't decode are logged and dropped.
func (q *Queue) Pop(ctx context.Context, topic string) (*queue.Message, error) {
	c, err := q.subscribe(topic)
	if err != nil {
		return nil, err
	}
	select {
	case m := <-c:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) subscribe(topic string) (chan *queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if c, have := q.subs[topic]; have {
		return c, nil
	}

	c := make(chan *queue.Message, q.opts.Inbox)
	handler := func(client mqtt.Client, msg mqtt.Message) {
		var m queue.Message
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			q.opts.logf("mq: bad payload on %s: %v", msg.Topic(), err)
			return
		}
		if m.Topic == "" {
			m.Topic = msg.Topic()
		}
		select {
		case c <- &m:
		default:
			q.opts.logf("mq: inbox full on %s; dropping %s", topic, m.Id)
		}
	}
	if err := q.wait(q.client.Subscribe(topic, q.opts.QoS, handler)); err != nil {
		return nil, err
	}
	q.subs[topic] = c
	return c, nil
}

// Delete is a no-op; the broker handles acknowledgement per QoS.
func (q *Queue) Delete(ctx context.Context, m *queue.Message) error {
	return nil
}

func (q *Queue) Requeue(ctx context.Context, m *queue.Message) error {
	return q.Push(ctx, m)
}

func (q *Queue) Reject(ctx context.Context, m *queue.Message) error {
	dead := *m
	dead.Topic = queue.DeadTopic + m.Topic
	return q.Push(ctx, &dead)
}

func (q *Queue) Close() error {
	q.mu.Lock()
	topics := make([]string, 0, len(q.subs))
	for topic := range q.subs {
		topics = append(topics, topic)
	}
	q.subs = make(map[string]chan *queue.Message)
	q.mu.Unlock()

	var err error
	for _, topic := range topics {
		if werr := q.wait(q.client.Unsubscribe(topic)); werr != nil && err == nil {
			err = werr
		}
	}
	q.client.Disconnect(100)
	return err
}
