/*
 *
 * Copyright 2025 gRPC authors.
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
 *
 */

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/shmkit/shmcache/hostcache"
)

func newTestRouter(t *testing.T, origins ...string) (*gin.Engine, *hostcache.Cache) {
	t.Helper()
	if runtime.GOOS != "linux" || (runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64") {
		t.Skip("shared memory requires linux/amd64 or linux/arm64")
	}
	gin.SetMode(gin.TestMode)

	c := hostcache.New(hostcache.WithDir(t.TempDir()))
	require.NoError(t, c.Init(fmt.Sprintf("admin-%d", time.Now().UnixNano()), 1<<16))
	t.Cleanup(c.Deinit)
	return newRouter(c, origins), c
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdminAssignAndLookup(t *testing.T) {
	r := require.New(t)
	router, c := newTestRouter(t)

	w := serve(router, http.MethodPut, "/v1/aliases/a.example.org", `{"alias":"1.2.3.4","ttl_seconds":60}`)
	r.Equal(http.StatusCreated, w.Code)

	w = serve(router, http.MethodPut, "/v1/aliases/a.example.org", `{"alias":"4.3.2.1","ttl_seconds":60}`)
	r.Equal(http.StatusOK, w.Code)
	var assigned struct {
		Inserted bool `json:"inserted"`
	}
	r.NoError(json.Unmarshal(w.Body.Bytes(), &assigned))
	r.False(assigned.Inserted)

	w = serve(router, http.MethodGet, "/v1/aliases/a.example.org", "")
	r.Equal(http.StatusOK, w.Code)
	var got struct {
		Host  string `json:"host"`
		Alias string `json:"alias"`
	}
	r.NoError(json.Unmarshal(w.Body.Bytes(), &got))
	r.Equal("a.example.org", got.Host)
	r.Equal("4.3.2.1", got.Alias)

	w = serve(router, http.MethodGet, "/v1/aliases/missing.example.org", "")
	r.Equal(http.StatusNotFound, w.Code)

	r.Equal(1, c.Size())
}

func TestAdminAssignRejectsBadInput(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := map[string]struct {
		host string
		body string
		want int
	}{
		"malformed json": {"a.example.org", `{"alias":`, http.StatusBadRequest},
		"missing alias":  {"a.example.org", `{"ttl_seconds":60}`, http.StatusBadRequest},
		"zero ttl":       {"a.example.org", `{"alias":"1.2.3.4","ttl_seconds":0}`, http.StatusBadRequest},
		"huge ttl":       {"a.example.org", `{"alias":"1.2.3.4","ttl_seconds":9300000000}`, http.StatusBadRequest},
		"ttl above cap":  {"a.example.org", fmt.Sprintf(`{"alias":"1.2.3.4","ttl_seconds":%d}`, maxTTLSeconds+1), http.StatusBadRequest},
		"nul in alias":   {"a.example.org", `{"alias":"1.2.3.4\u0000junk","ttl_seconds":60}`, http.StatusBadRequest},
		"long alias": {
			"a.example.org",
			fmt.Sprintf(`{"alias":%q,"ttl_seconds":60}`, strings.Repeat("x", hostcache.MaxHostnameLen+1)),
			http.StatusBadRequest,
		},
		"long host": {strings.Repeat("h", hostcache.MaxHostnameLen+1), `{"alias":"1.2.3.4","ttl_seconds":60}`, http.StatusBadRequest},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			w := serve(router, http.MethodPut, "/v1/aliases/"+tc.host, tc.body)
			require.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestAdminAssignMaxTTL(t *testing.T) {
	r := require.New(t)
	router, c := newTestRouter(t)

	body := fmt.Sprintf(`{"alias":"1.2.3.4","ttl_seconds":%d}`, maxTTLSeconds)
	w := serve(router, http.MethodPut, "/v1/aliases/a.example.org", body)
	r.Equal(http.StatusCreated, w.Code, w.Body.String())

	c.Range(func(key string, e hostcache.Entry) bool {
		r.Equal(time.Duration(maxTTLSeconds)*time.Second, e.TTL)
		return true
	})
}

func TestAdminEraseExpireClear(t *testing.T) {
	r := require.New(t)
	router, c := newTestRouter(t)

	_, err := c.InsertOrAssign("a.example.org", "1.1.1.1", time.Minute)
	r.NoError(err)
	_, err = c.InsertOrAssign("b.example.org", "2.2.2.2", time.Minute)
	r.NoError(err)

	w := serve(router, http.MethodDelete, "/v1/aliases/a.example.org", "")
	r.Equal(http.StatusNoContent, w.Code)
	r.Equal(1, c.Size())

	w = serve(router, http.MethodPost, "/v1/expire", "")
	r.Equal(http.StatusOK, w.Code)
	r.JSONEq(`{"removed":0}`, w.Body.String())

	w = serve(router, http.MethodPost, "/v1/clear", "")
	r.Equal(http.StatusNoContent, w.Code)
	r.Equal(0, c.Size())
}

func TestAdminListAndStats(t *testing.T) {
	r := require.New(t)
	router, c := newTestRouter(t)

	for _, host := range []string{"b.example.org", "a.example.org"} {
		_, err := c.InsertOrAssign(host, "10.0.0.1", time.Minute)
		r.NoError(err)
	}

	w := serve(router, http.MethodGet, "/v1/aliases", "")
	r.Equal(http.StatusOK, w.Code)
	var list struct {
		Aliases []aliasView `json:"aliases"`
		Count   int         `json:"count"`
	}
	r.NoError(json.Unmarshal(w.Body.Bytes(), &list))
	r.Equal(2, list.Count)
	r.Equal("a.example.org", list.Aliases[0].Host)
	r.Equal(int64(60), list.Aliases[0].TTLSeconds)
	r.False(list.Aliases[0].Expired)

	w = serve(router, http.MethodGet, "/v1/stats", "")
	r.Equal(http.StatusOK, w.Code)
	var stats hostcache.Stats
	r.NoError(json.Unmarshal(w.Body.Bytes(), &stats))
	r.Equal(2, stats.Entries)
	r.Equal(c.Name(), stats.Name)
	r.True(stats.Owner)

	w = serve(router, http.MethodGet, "/health", "")
	r.Equal(http.StatusOK, w.Code)
}

func TestAdminCORS(t *testing.T) {
	router, _ := newTestRouter(t, "http://localhost:3000")

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[codes.Code]int{
		codes.OK:                 http.StatusOK,
		codes.InvalidArgument:    http.StatusBadRequest,
		codes.NotFound:           http.StatusNotFound,
		codes.ResourceExhausted:  http.StatusInsufficientStorage,
		codes.FailedPrecondition: http.StatusServiceUnavailable,
		codes.Unavailable:        http.StatusServiceUnavailable,
		codes.Unknown:            http.StatusInternalServerError,
	}
	for code, want := range tests {
		if got := httpStatus(code); got != want {
			t.Errorf("httpStatus(%v) = %d, want %d", code, got, want)
		}
	}
}

func TestSplitOrigins(t *testing.T) {
	require.Nil(t, splitOrigins(""))
	require.Equal(t, []string{"http://a", "http://b"}, splitOrigins(" http://a, ,http://b "))
}
