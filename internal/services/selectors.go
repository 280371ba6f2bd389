package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"lab-dispatch-service/internal/domain"
	"lab-dispatch-service/internal/platform/cache"
)

// RouteQuery selects, orders and pages a route snapshot. Zero values mean
// "no constraint".
type RouteQuery struct {
	LabID    string
	Status   domain.RouteStatus
	DriverID string
	Date     string
	ClinicID string // matches routes visiting this clinic
	SortBy   string // "date", "name", "stops", "distance"
	Desc     bool
	Page     int // 1-based
	PerPage  int
}

// RoutePage is one page of a derived route view.
type RoutePage struct {
	Routes     []*domain.Route
	Total      int
	Page       int
	PerPage    int
	TotalPages int
}

// ViewPipeline computes derived read-only views over store snapshots.
// Results are memoized through the cache keyed by (snapshot version,
// query); any store mutation bumps the version and naturally invalidates.
type ViewPipeline struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewViewPipeline(c cache.Cache) *ViewPipeline {
	return &ViewPipeline{cache: c, ttl: 30 * time.Second}
}

// Routes filters, sorts and paginates a route snapshot. The input slice is
// treated as immutable; a fresh slice is returned.
func (vp *ViewPipeline) Routes(ctx context.Context, version uint64, routes []*domain.Route, q RouteQuery) RoutePage {
	key := routeQueryKey(version, q)
	if vp.cache != nil {
		if v, ok := vp.cache.Get(ctx, key); ok {
			switch cached := v.(type) {
			case RoutePage:
				return cached
			case json.RawMessage: // shared caches store pages as JSON
				var page RoutePage
				if err := json.Unmarshal(cached, &page); err == nil {
					return page
				}
			}
		}
	}

	page := buildRoutePage(routes, q)
	if vp.cache != nil {
		vp.cache.Set(ctx, key, page, vp.ttl)
	}
	return page
}

func buildRoutePage(routes []*domain.Route, q RouteQuery) RoutePage {
	filtered := make([]*domain.Route, 0, len(routes))
	for _, r := range routes {
		if q.LabID != "" && r.LabID != q.LabID {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		if q.DriverID != "" && r.DriverID != q.DriverID {
			continue
		}
		if q.Date != "" && r.Date != q.Date {
			continue
		}
		if q.ClinicID != "" && !visitsClinic(r, q.ClinicID) {
			continue
		}
		filtered = append(filtered, r)
	}

	sortRoutes(filtered, q)

	total := len(filtered)
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}

	totalPages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return RoutePage{
		Routes:     filtered[start:end],
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}
}

func sortRoutes(routes []*domain.Route, q RouteQuery) {
	less := func(a, b *domain.Route) bool {
		switch q.SortBy {
		case "name":
			return a.Name < b.Name
		case "stops":
			return len(a.Stops) < len(b.Stops)
		case "distance":
			return a.Metrics.TotalDistanceKm < b.Metrics.TotalDistanceKm
		default: // date, then name for a stable tiebreak
			if a.Date != b.Date {
				return a.Date < b.Date
			}
			return a.Name < b.Name
		}
	}

	sort.SliceStable(routes, func(i, j int) bool {
		if q.Desc {
			return less(routes[j], routes[i])
		}
		return less(routes[i], routes[j])
	})
}

func visitsClinic(r *domain.Route, clinicID string) bool {
	for _, s := range r.Stops {
		if s.ClinicID == clinicID {
			return true
		}
	}
	return false
}

func routeQueryKey(version uint64, q RouteQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "view-routes-%d-%s-%s-%s-%s-%s-%s-%t-%d-%d",
		version, q.LabID, q.Status, q.DriverID, q.Date, q.ClinicID,
		q.SortBy, q.Desc, q.Page, q.PerPage)
	return b.String()
}
