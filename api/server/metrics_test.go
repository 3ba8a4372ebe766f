// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	require := require.New(t)
	reg := metric.NewRegistry()

	metrics, err := newMetrics(reg)
	require.NoError(err)
	require.NotNil(metrics.requests)
	require.NotNil(metrics.duration)
	require.NotNil(metrics.inflight)

	// Registering twice on the same registry collides.
	_, err = newMetrics(reg)
	require.Error(err)
}

func TestWrapHandlerServesRequests(t *testing.T) {
	require := require.New(t)

	metrics, err := newMetrics(metric.NewRegistry())
	require.NoError(err)

	handler := metrics.wrapHandler("ledger", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(method, "/", nil))
		require.Equal(http.StatusTeapot, w.Code)
	}
}
