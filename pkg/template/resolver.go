package template

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/log"
	"github.com/cuemby/paddock/pkg/provider"
)

// Resolver turns image aliases into concrete image ids. An alias is an SSM
// parameter path (leading slash); concrete ids pass through untouched.
// Resolutions are cached with a TTL so rolling image releases are picked up
// without hammering the parameter store.
type Resolver struct {
	ssm    provider.SSMAPI
	policy provider.RetryPolicy
	cache  *gocache.Cache
}

// NewResolver builds an alias resolver caching resolutions for ttl
func NewResolver(client provider.SSMAPI, policy provider.RetryPolicy, ttl time.Duration) *Resolver {
	return &Resolver{
		ssm:    client,
		policy: policy,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// IsAlias reports whether the image reference is a parameter path rather
// than a concrete id
func IsAlias(image string) bool {
	return strings.HasPrefix(image, "/")
}

// ResolveImage returns the concrete image id for the template's image
// reference
func (r *Resolver) ResolveImage(ctx context.Context, image string) (string, error) {
	if !IsAlias(image) {
		return image, nil
	}
	if cached, ok := r.cache.Get(image); ok {
		return cached.(string), nil
	}

	var value string
	err := provider.Retry(ctx, r.policy, "GetParameter", func() error {
		out, err := r.ssm.GetParameter(ctx, &ssm.GetParameterInput{Name: lo.ToPtr(image)})
		if err != nil {
			return err
		}
		value = lo.FromPtr(out.Parameter.Value)
		return nil
	})
	if err != nil {
		return "", err
	}

	r.cache.SetDefault(image, value)
	log.WithComponent("template").Debug().
		Str("alias", image).
		Str("image_id", value).
		Msg("image alias resolved")
	return value, nil
}

// Resolve returns a copy of the template with its image alias replaced by
// the concrete id
func (r *Resolver) Resolve(ctx context.Context, tmpl domain.Template) (domain.Template, error) {
	imageID, err := r.ResolveImage(ctx, tmpl.ImageID)
	if err != nil {
		return tmpl, err
	}
	tmpl.ImageID = imageID
	return tmpl, nil
}

// Flush drops every cached resolution
func (r *Resolver) Flush() {
	r.cache.Flush()
}
