package auth

import "context"

type contextKey string

const authContextKey contextKey = "conduit_auth"

// AuthInfo holds authenticated identity information extracted from an API key.
type AuthInfo struct {
	KeyID         string
	Name          string
	AllowedModels []string
	Priority      int
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}

// AllowsModel mirrors KeyMetadata.AllowsModel for the context-carried view.
func (a *AuthInfo) AllowsModel(model string) bool {
	if len(a.AllowedModels) == 0 {
		return true
	}
	for _, m := range a.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}
