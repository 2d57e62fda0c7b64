// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/steed/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSender_Send(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		gotBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewHTTPSender()
	err := s.Send(context.Background(), srv.URL, map[string]string{"X-Token": "t"}, []byte(`{"a":1}`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"a":1}`, string(gotBody))
}

func TestHTTPSender_TimeoutBoundsDelivery(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	s := NewHTTPSender()
	start := time.Now()
	err := s.Send(context.Background(), srv.URL, nil, []byte("{}"), 50*time.Millisecond)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPSender()
	err := s.Send(context.Background(), srv.URL, nil, []byte("{}"), time.Second)
	assert.Error(t, err)
}

func TestNotifier_DeliversEnvelope(t *testing.T) {
	var mu sync.Mutex
	var got []events.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e events.Envelope
		_ = json.NewDecoder(r.Body).Decode(&e)
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(Config{URL: srv.URL}, nil, nil)
	defer n.Close()

	n.Deliver(events.Envelope{EventType: events.TypeMessagePushed, Target: "orders"})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, events.TypeMessagePushed, got[0].EventType)
	assert.Equal(t, "orders", got[0].Target)
	mu.Unlock()
}

func TestNotifier_EventFilter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(Config{
		URL:         srv.URL,
		EventFilter: []string{events.TypeQueueCreated},
	}, nil, nil)

	n.Deliver(events.Envelope{EventType: events.TypeMessagePushed})
	n.Deliver(events.Envelope{EventType: events.TypeQueueCreated})
	n.Close()

	assert.Equal(t, int32(1), hits.Load())
}

// failingSender always errors, to drive the breaker open.
type failingSender struct {
	calls atomic.Int32
}

func (s *failingSender) Send(context.Context, string, map[string]string, []byte, time.Duration) error {
	s.calls.Add(1)
	return errors.New("endpoint down")
}

func TestNotifier_CircuitBreakerOpens(t *testing.T) {
	sender := &failingSender{}
	n := NewNotifier(Config{
		URL:              "http://unreachable.invalid",
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}, sender, nil)

	for i := 0; i < 10; i++ {
		n.Deliver(events.Envelope{EventType: events.TypeMessagePushed})
	}
	n.Close()

	// Only the failures before the breaker opened reach the sender.
	assert.Equal(t, int32(3), sender.calls.Load())
}
