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
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"

	"github.com/shmkit/shmcache/hostcache"
)

// aliasView is the JSON form of a stored mapping.
type aliasView struct {
	Host       string    `json:"host"`
	Alias      string    `json:"alias"`
	Expiration time.Time `json:"expiration"`
	TTLSeconds int64     `json:"ttl_seconds"`
	Expired    bool      `json:"expired"`
}

// maxTTLSeconds caps ttl_seconds well below the time.Duration range. It must
// match the lte bound on assignRequest.TTLSeconds.
const maxTTLSeconds = 10 * 365 * 24 * 60 * 60

// assignRequest is the body of PUT /v1/aliases/:host.
type assignRequest struct {
	Alias      string `json:"alias" binding:"required"`
	TTLSeconds int64  `json:"ttl_seconds" binding:"required,gt=0,lte=315360000"`
}

type adminHandler struct {
	cache *hostcache.Cache
	now   func() time.Time
}

// newRouter returns the admin API for c. CORS is enabled only when origins
// is non-empty.
func newRouter(c *hostcache.Cache, origins []string) *gin.Engine {
	h := &adminHandler{cache: c, now: time.Now}

	router := gin.New()
	router.Use(gin.Recovery())
	if len(origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"segment": c.Name(),
		})
	})

	api := router.Group("/v1")
	{
		api.GET("/stats", h.stats)
		api.GET("/aliases", h.list)
		api.GET("/aliases/:host", h.lookup)
		api.PUT("/aliases/:host", h.assign)
		api.DELETE("/aliases/:host", h.erase)
		api.POST("/expire", h.expire)
		api.POST("/clear", h.clear)
	}
	return router
}

func (h *adminHandler) stats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.cache.Stats())
}

func (h *adminHandler) list(ctx *gin.Context) {
	now := h.now()
	aliases := []aliasView{}
	h.cache.Range(func(key string, e hostcache.Entry) bool {
		aliases = append(aliases, aliasView{
			Host:       key,
			Alias:      e.Alias,
			Expiration: e.Expiration.UTC(),
			TTLSeconds: int64(e.TTL / time.Second),
			Expired:    e.Expired(now),
		})
		return true
	})
	ctx.JSON(http.StatusOK, gin.H{
		"aliases": aliases,
		"count":   len(aliases),
	})
}

func (h *adminHandler) lookup(ctx *gin.Context) {
	host := ctx.Param("host")
	alias, ok := h.cache.Lookup(host)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{
			"error": "no live alias for " + host,
			"code":  codes.NotFound.String(),
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"host":  host,
		"alias": alias,
	})
}

func (h *adminHandler) assign(ctx *gin.Context) {
	var req assignRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  codes.InvalidArgument.String(),
		})
		return
	}

	host := ctx.Param("host")
	inserted, err := h.cache.InsertOrAssign(host, req.Alias, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(ctx, err)
		return
	}

	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	ctx.JSON(status, gin.H{
		"host":     host,
		"alias":    req.Alias,
		"inserted": inserted,
	})
}

func (h *adminHandler) erase(ctx *gin.Context) {
	h.cache.Erase(ctx.Param("host"))
	ctx.Status(http.StatusNoContent)
}

func (h *adminHandler) expire(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"removed": h.cache.EraseExpired(),
	})
}

func (h *adminHandler) clear(ctx *gin.Context) {
	h.cache.Clear()
	ctx.Status(http.StatusNoContent)
}

// writeError reports a cache error with the HTTP status matching its code.
func writeError(ctx *gin.Context, err error) {
	st := hostcache.Status(err)
	ctx.JSON(httpStatus(st.Code()), gin.H{
		"error": st.Message(),
		"code":  st.Code().String(),
	})
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusInsufficientStorage
	case codes.FailedPrecondition, codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
