package fakeserver

import (
	"context"
	"net/http"
	"sort"

	"github.com/jrsteele09/billing-console/authapi"
)

func withClaims(ctx context.Context, c *accessClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// claimsFrom is only called behind requireBearer, which always sets claims.
func claimsFrom(r *http.Request) *accessClaims {
	c, ok := r.Context().Value(claimsKey{}).(*accessClaims)
	if !ok {
		panic(errNoClaims)
	}
	return c
}

func sortSessions(list []authapi.SessionInfo) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
