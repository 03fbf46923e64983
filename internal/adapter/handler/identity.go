package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/metadata"

	"github.com/rl1809/keydrop/internal/core/domain"
)

// Identity is asserted by the gateway in front of this service.
const (
	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"

	UserIDMetadataKey   = "x-user-id"
	UserRoleMetadataKey = "x-user-role"

	roleAdmin = "admin"
)

const requesterKey = "keydrop.requester"

func requesterFromHeaders(c *gin.Context) domain.Requester {
	return domain.Requester{
		UserID: strings.TrimSpace(c.GetHeader(UserIDHeader)),
		Admin:  strings.EqualFold(strings.TrimSpace(c.GetHeader(UserRoleHeader)), roleAdmin),
	}
}

func requesterFromMetadata(ctx context.Context) domain.Requester {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.Requester{}
	}
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	return domain.Requester{
		UserID: first(UserIDMetadataKey),
		Admin:  strings.EqualFold(first(UserRoleMetadataKey), roleAdmin),
	}
}

// WithRequester returns an outgoing context carrying the caller's identity.
func WithRequester(ctx context.Context, r domain.Requester) context.Context {
	pairs := []string{UserIDMetadataKey, r.UserID}
	if r.Admin {
		pairs = append(pairs, UserRoleMetadataKey, roleAdmin)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}
