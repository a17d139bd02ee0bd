package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

type pageInfo struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

type page[T any] struct {
	Items []T      `json:"items"`
	Page  pageInfo `json:"page"`
}

func parsePagination(c *gin.Context, fallback, limit int) (int, int) {
	pageNum := 1
	perPage := fallback
	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			pageNum = value
		}
	}
	if raw := strings.TrimSpace(c.Query("per_page")); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			perPage = value
		}
	}
	if limit > 0 && perPage > limit {
		perPage = limit
	}
	return pageNum, perPage
}

// paginate slices one page out of items. A page past the end is clamped
// to the last page.
func paginate[T any](items []T, pageNum, perPage int) page[T] {
	if perPage <= 0 {
		perPage = 1
	}
	total := len(items)
	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	if pageNum <= 0 {
		pageNum = 1
	}
	if pageNum > totalPages {
		pageNum = totalPages
	}
	start := min((pageNum-1)*perPage, total)
	end := min(start+perPage, total)
	out := items[start:end]
	if out == nil {
		out = []T{}
	}
	return page[T]{
		Items: out,
		Page: pageInfo{
			Page:       pageNum,
			PerPage:    perPage,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    pageNum < totalPages,
		},
	}
}
